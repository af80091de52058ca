package gateway

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Dolores18/api-manager/internal/analytics"
	"github.com/Dolores18/api-manager/internal/httpclient"
	"github.com/Dolores18/api-manager/internal/registry"
	"github.com/Dolores18/api-manager/internal/store/model"
	"github.com/Dolores18/api-manager/pkg/api"
)

// RequestMeta carries caller identity into the usage ledger.
type RequestMeta struct {
	RequestID string
	ClientIP  string
}

// Service routes chat completions across the provider pool with failover.
// Every request produces exactly one usage record at its terminal outcome:
// Success, Failure, or Partial for streams cut off mid-flight.
type Service interface {
	Chat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (*api.ChatResponse, error)
	StreamChat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (<-chan api.StreamResult, error)
}

type routerService struct {
	logger   *zap.Logger
	registry *registry.Registry
	selector *Selector
	ledger   *analytics.Ledger
	client   httpclient.HTTPClient
	limits   *connLimiter

	maxAttempts     int
	upstreamTimeout time.Duration
}

func NewService(logger *zap.Logger, reg *registry.Registry, sel *Selector, ledger *analytics.Ledger, client httpclient.HTTPClient, maxAttempts int, upstreamTimeout time.Duration) Service {
	return &routerService{
		logger:          logger,
		registry:        reg,
		selector:        sel,
		ledger:          ledger,
		client:          client,
		limits:          newConnLimiter(),
		maxAttempts:     maxAttempts,
		upstreamTimeout: upstreamTimeout,
	}
}

// Chat runs the buffered completion path. Transient upstream failures rotate
// to the next eligible account; only the terminal outcome is recorded.
func (s *routerService) Chat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (*api.ChatResponse, error) {
	tried := make(map[string]bool)

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidates := s.available(req.Model, tried)
		if len(candidates) == 0 {
			break
		}

		p := s.selector.Next(req.Model, candidates)
		tried[p.ID] = true

		release, ok := s.limits.acquire(p)
		if !ok {
			s.logger.Warn("Provider at connection capacity, rotating",
				zap.String("provider_id", p.ID),
				zap.String("provider", p.Name),
				zap.String("model", req.Model),
			)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
		resp, err := s.complete(attemptCtx, p, req)
		cancel()
		release()

		if err == nil {
			if resp.Usage == nil {
				// nothing billable came back; same contract as a stream that
				// ends without a usage chunk
				s.logger.Warn("Completion returned without usage data",
					zap.String("provider", p.Name),
					zap.String("model", req.Model),
				)
				s.record(&p, req, meta, model.UsageFailure, nil)
				return resp, nil
			}
			s.record(&p, req, meta, model.UsageSuccess, resp.Usage)
			return resp, nil
		}

		if ctx.Err() != nil {
			s.record(&p, req, meta, model.UsagePartial, nil)
			return nil, ctx.Err()
		}

		var ue *httpclient.UpstreamError
		if errors.As(err, &ue) && !retryableStatus(ue.StatusCode) {
			// the request itself was rejected; the account is fine
			s.record(&p, req, meta, model.UsageFailure, nil)
			return nil, api.UpstreamRejectedError(ue.StatusCode, "upstream rejected the request", err)
		}

		s.logger.Warn("Attempt failed, rotating provider",
			zap.String("provider_id", p.ID),
			zap.String("provider", p.Name),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		s.registry.Penalize(ctx, p.ID)
	}

	s.record(nil, req, meta, model.UsageFailure, nil)
	return nil, api.NoCapacityError(req.Model)
}

// StreamChat establishes a streaming completion, failing over between
// accounts until a stream opens. After the first relayed byte the attempt is
// committed: an interruption ends as Partial, never a retry.
func (s *routerService) StreamChat(ctx context.Context, req *api.ChatRequest, meta RequestMeta) (<-chan api.StreamResult, error) {
	tried := make(map[string]bool)

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		candidates := s.available(req.Model, tried)
		if len(candidates) == 0 {
			break
		}

		p := s.selector.Next(req.Model, candidates)
		tried[p.ID] = true

		release, ok := s.limits.acquire(p)
		if !ok {
			s.logger.Warn("Provider at connection capacity, rotating",
				zap.String("provider_id", p.ID),
				zap.String("provider", p.Name),
				zap.String("model", req.Model),
			)
			continue
		}

		streamCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
		body, err := s.openStream(streamCtx, p, req)
		if err == nil {
			out := make(chan api.StreamResult)
			go s.relay(streamCtx, cancel, release, body, p, req, meta, out)
			return out, nil
		}
		cancel()
		release()

		if ctx.Err() != nil {
			s.record(&p, req, meta, model.UsagePartial, nil)
			return nil, ctx.Err()
		}

		var ue *httpclient.UpstreamError
		if errors.As(err, &ue) && !retryableStatus(ue.StatusCode) {
			s.record(&p, req, meta, model.UsageFailure, nil)
			return nil, api.UpstreamRejectedError(ue.StatusCode, "upstream rejected the request", err)
		}

		s.logger.Warn("Stream attempt failed, rotating provider",
			zap.String("provider_id", p.ID),
			zap.String("provider", p.Name),
			zap.String("model", req.Model),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		s.registry.Penalize(ctx, p.ID)
	}

	s.record(nil, req, meta, model.UsageFailure, nil)
	return nil, api.NoCapacityError(req.Model)
}

// relay pumps upstream SSE lines to the caller, watching for the usage chunk.
// It owns the terminal usage record for the stream and holds the provider's
// connection slot until the stream ends.
func (s *routerService) relay(ctx context.Context, cancel context.CancelFunc, release func(), body io.ReadCloser, p model.Provider, req *api.ChatRequest, meta RequestMeta, out chan<- api.StreamResult) {
	defer close(out)
	defer release()
	defer cancel()
	defer func() {
		_ = body.Close()
	}()

	var usage *api.Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if u, ok := parseStreamUsage(line); ok {
			usage = u
		}

		data := make([]byte, len(line))
		copy(data, line)

		select {
		case out <- api.StreamResult{Data: data}:
		case <-ctx.Done():
			s.record(&p, req, meta, model.UsagePartial, usage)
			return
		}
	}

	if err := scanner.Err(); err != nil || ctx.Err() != nil {
		s.record(&p, req, meta, model.UsagePartial, usage)
		if err != nil && ctx.Err() == nil {
			select {
			case out <- api.StreamResult{Err: err}:
			case <-ctx.Done():
			}
		}
		return
	}

	if usage != nil {
		s.record(&p, req, meta, model.UsageSuccess, usage)
		return
	}

	// stream finished but the upstream never reported usage; nothing can be
	// billed, so the request counts as failed with zero tokens
	s.logger.Warn("Stream completed without usage data",
		zap.String("provider", p.Name),
		zap.String("model", req.Model),
	)
	s.record(&p, req, meta, model.UsageFailure, nil)
}

// available filters the eligible pool down to accounts not yet tried for this
// request.
func (s *routerService) available(modelName string, tried map[string]bool) []model.Provider {
	var out []model.Provider
	for _, p := range s.registry.Eligible(modelName) {
		if !tried[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// record emits the request's single terminal usage record. A nil provider
// means routing exhausted the pool before any account answered.
func (s *routerService) record(p *model.Provider, req *api.ChatRequest, meta RequestMeta, status string, usage *api.Usage) {
	rec := &model.UsageRecord{
		RequestTime: time.Now().UTC(),
		Model:       req.Model,
		Status:      status,
	}
	if p != nil {
		rec.ProviderAPIKey = sql.NullString{String: p.APIKey, Valid: true}
		rec.ProviderName = p.Name
	}
	if meta.RequestID != "" {
		rec.RequestID = sql.NullString{String: meta.RequestID, Valid: true}
	}
	if meta.ClientIP != "" {
		rec.ClientIP = sql.NullString{String: meta.ClientIP, Valid: true}
	}
	if usage != nil {
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
	}

	s.ledger.Record(rec)
}

// retryableStatus classifies upstream HTTP failures: server-side trouble and
// throttling are worth another account, anything else 4xx is the caller's
// problem.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}
