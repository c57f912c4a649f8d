package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"mercator-hq/tollgate/pkg/fallback"
	"mercator-hq/tollgate/pkg/telemetry/logging"
)

// Usage is the token usage block of a provider response. Both the
// OpenAI (prompt/completion) and Anthropic (input/output) field names are
// understood.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

// Counts returns input and output token counts.
func (u Usage) Counts() (input, output int) {
	input, output = u.PromptTokens, u.CompletionTokens
	if input == 0 && output == 0 {
		input, output = u.InputTokens, u.OutputTokens
	}
	return input, output
}

// NewProxy returns a reverse proxy to upstream that reconciles each
// steered request from the usage block of a successful JSON response.
// Streaming responses are passed through; their pending selections expire.
// With a non-nil executor, provider failures on steered requests fall back
// along the selected model's chain.
func NewProxy(upstream string, adapter *Adapter, executor *fallback.Executor, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", upstream)
	}
	logger = logging.Component(logger, "ingress.proxy")

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(HeaderQuality)
			pr.Out.Header.Del(HeaderPriority)
			pr.Out.Header.Del(HeaderApproved)
		},
		ModifyResponse: func(resp *http.Response) error {
			steerID := SteerID(resp.Request.Context())
			p, ok := adapter.Lookup(steerID)
			if !ok {
				return nil
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				adapter.Forget(steerID)
				return nil
			}
			if !isJSON(resp.Header.Get("Content-Type")) {
				return nil
			}

			raw, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(raw))
			if err != nil {
				return err
			}

			var payload struct {
				Usage *Usage `json:"usage"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil || payload.Usage == nil {
				logger.Warn("provider response without usage, not reconciled", "request_id", p.RequestID, "steer_id", steerID)
				return nil
			}

			in, out := payload.Usage.Counts()
			ctx := context.WithoutCancel(resp.Request.Context())
			if _, err := adapter.Complete(ctx, steerID, in, out); err != nil {
				logger.ErrorContext(ctx, "reconciliation failed", "steer_id", steerID, "error", err)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			adapter.Forget(SteerID(r.Context()))
			logger.ErrorContext(r.Context(), "upstream request failed", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "upstream request failed", "type": "bad_gateway"},
			})
		},
	}
	if executor != nil {
		rp.Transport = newFallbackTransport(nil, executor, adapter, logger)
	}
	return rp, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "application/json" || strings.HasSuffix(mt, "+json"))
}
