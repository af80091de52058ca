package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/pkg/api"
)

const completionPath = "/v1/chat/completions"

func authHeaders(p model.Provider) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}
}

// complete forwards a buffered completion to one upstream account.
func (s *routerService) complete(ctx context.Context, p model.Provider, req *api.ChatRequest) (*api.ChatResponse, error) {
	upstream := *req
	upstream.Stream = false

	var resp api.ChatResponse
	err := httpclient.SendRequest(ctx, s.client, "POST", p.BaseURL+completionPath, authHeaders(p), &upstream, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// openStream establishes a streaming completion. Failover is only possible
// until this returns; once the body is handed back, bytes may already have
// reached the caller.
func (s *routerService) openStream(ctx context.Context, p model.Provider, req *api.ChatRequest) (io.ReadCloser, error) {
	upstream := *req
	upstream.Stream = true

	return httpclient.OpenStream(ctx, s.client, "POST", p.BaseURL+completionPath, authHeaders(p), &upstream)
}

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
	usageField = []byte(`"usage"`)
)

// parseStreamUsage extracts token accounting from a relayed SSE line. Most
// chunks carry no usage; only the final chunk of a usage-reporting stream
// does, so lines are sniffed for the field before paying for a full decode.
func parseStreamUsage(line []byte) (*api.Usage, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
	if bytes.Equal(payload, doneMarker) || !bytes.Contains(payload, usageField) {
		return nil, false
	}

	var chunk struct {
		Usage *api.Usage `json:"usage"`
	}
	if err := json.Unmarshal(payload, &chunk); err != nil || chunk.Usage == nil {
		return nil, false
	}
	return chunk.Usage, true
}
