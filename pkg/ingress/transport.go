package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"mercator-hq/tollgate/pkg/catalog"
	"mercator-hq/tollgate/pkg/fallback"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Response headers set on steered requests that went through fallback.
const (
	HeaderServedModel = "X-Tollgate-Served-Model"
	HeaderAttempts    = "X-Tollgate-Attempts"
)

// fallbackTransport sends steered requests through the fallback executor.
// A 429 or 5xx from the provider moves to the next admissible model; the
// body is re-sent with that model's id. Requests the adapter did not steer
// go straight to base.
type fallbackTransport struct {
	base     http.RoundTripper
	executor *fallback.Executor
	adapter  *Adapter
	logger   *slog.Logger
}

func newFallbackTransport(base http.RoundTripper, executor *fallback.Executor, adapter *Adapter, logger *slog.Logger) *fallbackTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &fallbackTransport{
		base:     base,
		executor: executor,
		adapter:  adapter,
		logger:   logging.Component(logger, "ingress.transport"),
	}
}

func (t *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	steerID := SteerID(req.Context())
	p, ok := t.adapter.Lookup(steerID)
	if !ok || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	raw, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return t.base.RoundTrip(withRawBody(req, raw))
	}

	var (
		served *http.Response
		failed *http.Response
	)
	call := func(ctx context.Context, m catalog.Model) error {
		out := raw
		if m.ID != p.Model {
			body["model"] = m.ID
			if out, err = json.Marshal(body); err != nil {
				return err
			}
		}
		resp, err := t.base.RoundTrip(withRawBody(req.WithContext(ctx), out))
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			keepLast(&failed, resp)
			return fallback.RateLimited(fmt.Errorf("provider returned %d", resp.StatusCode))
		case resp.StatusCode >= 500:
			keepLast(&failed, resp)
			return &fallback.ProviderError{
				Reason: fallback.ReasonProviderError,
				Err:    fmt.Errorf("provider returned %d", resp.StatusCode),
			}
		}
		served = resp
		return nil
	}

	outcome, err := t.executor.Run(req.Context(), p.request, p.status, p.enforcement, p.Model, call)
	if err != nil {
		t.logger.WarnContext(req.Context(), "fallback chain exhausted",
			"request_id", p.RequestID, "attempts", len(outcome.Attempts), "error", err)
		if failed != nil {
			failed.Header.Set(HeaderAttempts, strconv.Itoa(len(outcome.Attempts)))
			return failed, nil
		}
		return nil, err
	}
	if failed != nil {
		_ = failed.Body.Close()
	}

	if outcome.Model != p.Model {
		t.logger.InfoContext(req.Context(), "request served by fallback model",
			"request_id", p.RequestID, "selected", p.Model, "served", outcome.Model)
		t.adapter.reassign(steerID, outcome.Model)
	}
	served.Header.Set(HeaderServedModel, outcome.Model)
	served.Header.Set(HeaderAttempts, strconv.Itoa(len(outcome.Attempts)))
	return served, nil
}

// keepLast holds on to the latest failed response so it can be relayed if
// every model fails.
func keepLast(slot **http.Response, resp *http.Response) {
	if *slot != nil {
		_ = (*slot).Body.Close()
	}
	*slot = resp
}

func withRawBody(req *http.Request, raw []byte) *http.Request {
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(raw))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	out.ContentLength = int64(len(raw))
	return out
}
