package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/tollgate/pkg/audit"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/faults"
	"mercator-hq/tollgate/pkg/ledger"
	"mercator-hq/tollgate/pkg/reconcile"
	"mercator-hq/tollgate/pkg/selection"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
	"mercator-hq/tollgate/pkg/tokens"
)

// Request and response headers.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderSteerID   = "X-Tollgate-Steer-ID"
	HeaderModel     = "X-Tollgate-Model"
	HeaderDegraded  = "X-Tollgate-Degraded"
	HeaderQuality   = "X-Tollgate-Quality"
	HeaderPriority  = "X-Tollgate-Priority"
	HeaderApproved  = "X-Tollgate-Approved"
)

// Degraded-mode reasons.
const (
	DegradedInvalidBody        = "invalid_body"
	DegradedScopeUnresolved    = "scope_unresolved"
	DegradedStatusUnavailable  = "status_unavailable"
	DegradedCatalogUnavailable = "catalog_unavailable"
	DegradedInvalidRequest     = "invalid_request"
	DegradedNoModel            = "no_admissible_model"
	DegradedSelectionError     = "selection_error"
)

const maxBodyBytes = 10 << 20

var errBodyTooLarge = fmt.Errorf("body exceeds %d bytes", maxBodyBytes)

// FailMode decides what happens to a request the adapter cannot steer.
type FailMode string

const (
	// FailOpen forwards the original request unmodified.
	FailOpen FailMode = "open"

	// FailClosed rejects the request with 503.
	FailClosed FailMode = "closed"
)

// Selector picks a model for a request.
type Selector interface {
	Select(ctx context.Context, req selection.Request) (selection.Response, error)
	SelectWithStatus(ctx context.Context, req selection.Request, status ledger.BudgetStatus) (selection.Response, error)
}

// ScopeStatus returns the status that governs a scope.
type ScopeStatus interface {
	Status(ctx context.Context, kind ledger.ScopeKind, scopeID string) (ledger.BudgetStatus, error)
}

// UsageReconciler charges actual usage.
type UsageReconciler interface {
	ReconcileUsage(ctx context.Context, u reconcile.Usage) (reconcile.Result, error)
}

// Pending is a selection awaiting its provider response. SteerID is minted
// per steered request and keys both the pending entry and the ledger
// record; RequestID is the caller's correlation id.
type Pending struct {
	SteerID       string             `json:"steer_id"`
	RequestID     string             `json:"request_id"`
	BudgetID      string             `json:"budget_id,omitempty"`
	ScopeKind     ledger.ScopeKind   `json:"scope_kind,omitempty"`
	ScopeID       string             `json:"scope_id,omitempty"`
	Model         string             `json:"model"`
	OriginalModel string             `json:"original_model,omitempty"`
	TaskType      selection.TaskType `json:"task_type"`
	EstimatedCost float64            `json:"estimated_cost"`
	SelectedAt    time.Time          `json:"selected_at"`

	request     selection.Request
	status      *ledger.BudgetStatus
	enforcement ledger.ActionSet
}

type steerKey struct{}

// SteerID returns the steer id Steer attached to ctx, or "".
func SteerID(ctx context.Context) string {
	id, _ := ctx.Value(steerKey{}).(string)
	return id
}

// Adapter is the request-path middleware.
type Adapter struct {
	selector   Selector
	status     ScopeStatus
	reconciler UsageReconciler
	pending    *expirable.LRU[string, Pending]

	scopeKind  ledger.ScopeKind
	scopeField FieldPath
	taskField  FieldPath
	failMode   FailMode

	audit   audit.Sink
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(a *Adapter) { a.audit = audit.OrDiscard(sink) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Adapter) { a.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logging.Component(logger, "ingress") }
}

// NewAdapter creates an Adapter from the ingress config section.
func NewAdapter(selector Selector, status ScopeStatus, reconciler UsageReconciler, cfg config.IngressConfig, opts ...Option) (*Adapter, error) {
	scopeField, err := ParseFieldPath(cfg.ScopeField)
	if err != nil {
		return nil, faults.Invalid("ingress.scope_field", "%v", err)
	}
	taskField, err := ParseFieldPath(cfg.TaskField)
	if err != nil {
		return nil, faults.Invalid("ingress.task_field", "%v", err)
	}

	kind := ledger.ScopeKind(cfg.ScopeKind)
	if kind == "" {
		kind = ledger.ScopeKind(config.DefaultIngressScopeKind)
	}
	if !kind.Valid() {
		return nil, faults.Invalid("ingress.scope_kind", "unknown scope kind %q", cfg.ScopeKind)
	}

	mode := FailMode(strings.ToLower(cfg.FailMode))
	switch mode {
	case "":
		mode = FailOpen
	case FailOpen, FailClosed:
	default:
		return nil, faults.Invalid("ingress.fail_mode", "must be open or closed, got %q", cfg.FailMode)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultIngressCacheSize
	}
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = config.DefaultIngressPendingTTL
	}

	a := &Adapter{
		selector:   selector,
		status:     status,
		reconciler: reconciler,
		pending:    expirable.NewLRU[string, Pending](size, nil, ttl),
		scopeKind:  kind,
		scopeField: scopeField,
		taskField:  taskField,
		failMode:   mode,
		audit:      audit.Discard,
		logger:     logging.Component(nil, "ingress"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FailMode returns the configured fail mode.
func (a *Adapter) FailMode() FailMode {
	return a.failMode
}

// Middleware steers each request before passing it to next. In fail-open
// mode a request that cannot be steered reaches next unmodified.
func (a *Adapter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := a.Steer(w, r)
		if err != nil {
			faults.WriteHTTP(w, err)
			return
		}
		next.ServeHTTP(w, out)
	})
}

// Steer selects a model for r and returns the request to forward. It sets
// the request id, steer id, chosen model and degraded headers on w. The
// returned request's context carries the steer id. An error means the
// request must be rejected.
func (a *Adapter) Steer(w http.ResponseWriter, r *http.Request) (out *http.Request, err error) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = logging.GetRequestID(r.Context())
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	steerID := uuid.NewString()
	ctx := logging.WithRequestID(r.Context(), requestID)
	ctx = context.WithValue(ctx, steerKey{}, steerID)

	ctx, span := tracing.Start(ctx, "ingress.Steer",
		attribute.String("request.id", requestID),
		attribute.String("steer.id", steerID),
	)
	defer func() { tracing.End(span, err) }()

	w.Header().Set(HeaderRequestID, requestID)

	if r.ContentLength > maxBodyBytes {
		return a.giveUp(ctx, w, passThrough(ctx, r, nil, requestID), requestID, DegradedInvalidBody, errBodyTooLarge)
	}
	raw, readErr := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if readErr == nil && len(raw) > maxBodyBytes {
		return a.giveUp(ctx, w, passThrough(ctx, r, raw, requestID), requestID, DegradedInvalidBody, errBodyTooLarge)
	}
	_ = r.Body.Close()
	original := withBody(r.WithContext(ctx), raw)
	original.Header.Set(HeaderRequestID, requestID)

	if readErr != nil {
		return a.giveUp(ctx, w, original, requestID, DegradedInvalidBody, readErr)
	}

	body, err := decodeBody(raw)
	if err != nil {
		return a.giveUp(ctx, w, original, requestID, DegradedInvalidBody, err)
	}

	scopeID := a.scopeField.Resolve(original, body)
	if scopeID != "" {
		ctx = logging.WithScope(ctx, string(a.scopeKind)+"/"+scopeID)
	}

	var status *ledger.BudgetStatus
	switch {
	case scopeID == "":
		if err := a.degrade(ctx, w, requestID, DegradedScopeUnresolved, fmt.Errorf("no value at %s", a.scopeField)); err != nil {
			return nil, err
		}
	default:
		st, serr := a.status.Status(ctx, a.scopeKind, scopeID)
		switch {
		case serr == nil:
			status = &st
			ctx = logging.WithBudgetID(ctx, st.BudgetID)
		case errors.Is(serr, faults.ErrNotFound):
			// The scope has no budget; select without cost awareness.
		default:
			if err := a.degrade(ctx, w, requestID, DegradedStatusUnavailable, serr); err != nil {
				return nil, err
			}
		}
	}

	req := a.buildRequest(original, body, requestID)

	var resp selection.Response
	if status != nil {
		req.BudgetID = status.BudgetID
		resp, err = a.selector.SelectWithStatus(ctx, req, *status)
	} else {
		resp, err = a.selector.Select(ctx, req)
	}
	if err != nil {
		if errors.Is(err, faults.ErrBudgetBlocked) {
			a.logger.InfoContext(ctx, "request blocked by budget enforcement", "error", err)
			return nil, err
		}
		return a.giveUp(ctx, w, original, requestID, selectionReason(err), err)
	}
	if resp.Degraded {
		w.Header().Set(HeaderDegraded, "true")
	}

	originalModel, _ := body["model"].(string)
	body["model"] = resp.Model
	rewritten, err := json.Marshal(body)
	if err != nil {
		return a.giveUp(ctx, w, original, requestID, DegradedInvalidBody, err)
	}

	a.pending.Add(steerID, Pending{
		SteerID:       steerID,
		RequestID:     requestID,
		BudgetID:      req.BudgetID,
		ScopeKind:     a.scopeKind,
		ScopeID:       scopeID,
		Model:         resp.Model,
		OriginalModel: originalModel,
		TaskType:      req.TaskType,
		EstimatedCost: resp.Cost.Total,
		SelectedAt:    a.now(),
		request:       req,
		status:        status,
		enforcement:   resp.Enforcement,
	})

	w.Header().Set(HeaderSteerID, steerID)
	w.Header().Set(HeaderModel, resp.Model)
	out = withBody(original, rewritten)
	out.Header.Set(HeaderModel, resp.Model)

	a.logger.DebugContext(ctx, "request steered",
		"original_model", originalModel,
		"model", resp.Model,
		"task", req.TaskType,
		"estimated_cost", resp.Cost.Total,
	)
	return out, nil
}

func (a *Adapter) buildRequest(r *http.Request, body map[string]any, requestID string) selection.Request {
	messages := extractMessages(body)
	prompt, _ := body["prompt"].(string)

	var text strings.Builder
	for _, m := range messages {
		if m.Role == "user" {
			text.WriteString(m.Content)
			text.WriteByte('\n')
		}
	}
	text.WriteString(prompt)

	approved, _ := strconv.ParseBool(r.Header.Get(HeaderApproved))
	return selection.Request{
		ID:        requestID,
		Messages:  messages,
		Prompt:    prompt,
		TaskType:  InferTask(a.taskField.Resolve(r, body), text.String()),
		Quality:   selection.QualityRequirement(strings.ToLower(r.Header.Get(HeaderQuality))),
		Priority:  selection.Priority(strings.ToLower(r.Header.Get(HeaderPriority))),
		MaxTokens: intField(body, "max_tokens"),
		Approved:  approved,
	}
}

func selectionReason(err error) string {
	switch {
	case errors.Is(err, faults.ErrExternalUnavailable):
		return DegradedCatalogUnavailable
	case errors.Is(err, faults.ErrValidation):
		return DegradedInvalidRequest
	case errors.Is(err, faults.ErrSelectionFailure):
		return DegradedNoModel
	}
	return DegradedSelectionError
}

// degrade records a degraded-mode event. In fail-closed mode it returns
// the error that rejects the request.
func (a *Adapter) degrade(ctx context.Context, w http.ResponseWriter, requestID, reason string, cause error) error {
	a.metrics.RecordDegraded(reason)
	a.audit.Record(ctx, audit.Event{
		Type:      audit.TypeDegraded,
		Component: "ingress",
		BudgetID:  logging.GetBudgetID(ctx),
		RequestID: requestID,
		Message:   cause.Error(),
		Fields:    map[string]any{"reason": reason, "fail_mode": string(a.failMode)},
	})
	a.logger.WarnContext(ctx, "ingress degraded", "reason", reason, "fail_mode", a.failMode, "error", cause)

	if a.failMode == FailClosed {
		return faults.Unavailable("ingress", fmt.Errorf("%s: %w", reason, cause))
	}
	w.Header().Set(HeaderDegraded, "true")
	return nil
}

// giveUp degrades and, in fail-open mode, forwards the original request.
func (a *Adapter) giveUp(ctx context.Context, w http.ResponseWriter, original *http.Request, requestID, reason string, cause error) (*http.Request, error) {
	if err := a.degrade(ctx, w, requestID, reason, cause); err != nil {
		return nil, err
	}
	return original, nil
}

// Lookup returns the pending selection of a steered request.
func (a *Adapter) Lookup(steerID string) (Pending, bool) {
	return a.pending.Get(steerID)
}

// reassign records that a fallback model served the request.
func (a *Adapter) reassign(steerID, model string) {
	if p, ok := a.pending.Get(steerID); ok {
		p.Model = model
		a.pending.Add(steerID, p)
	}
}

// Forget drops the pending selection of a request the provider failed.
func (a *Adapter) Forget(steerID string) {
	a.pending.Remove(steerID)
}

// Complete reconciles a steered request once its actual token counts are
// known. The steer id is the ledger idempotency key, so requests that share
// a caller request id are charged separately. Requests that were not
// charged to a budget reconcile to a zero Result. A pending entry survives
// a retryable failure so that Complete can be called again.
func (a *Adapter) Complete(ctx context.Context, steerID string, inputTokens, outputTokens int) (reconcile.Result, error) {
	p, ok := a.pending.Get(steerID)
	if !ok {
		return reconcile.Result{}, faults.NotFound("pending selection", steerID)
	}
	if p.BudgetID == "" {
		a.pending.Remove(steerID)
		return reconcile.Result{}, nil
	}

	u := reconcile.Usage{
		RequestID:    steerID,
		CallerID:     p.RequestID,
		BudgetID:     p.BudgetID,
		ModelID:      p.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TaskType:     p.TaskType,
	}
	switch p.ScopeKind {
	case ledger.ScopeUser:
		u.UserID = p.ScopeID
	case ledger.ScopeTeam:
		u.TeamID = p.ScopeID
	case ledger.ScopeProject:
		u.ProjectID = p.ScopeID
	}

	res, err := a.reconciler.ReconcileUsage(ctx, u)
	if err == nil || !faults.Retryable(err) {
		a.pending.Remove(steerID)
	}
	return res, err
}

// passThrough returns r unmodified for forwarding after head, the part of
// its body already read, was consumed.
func passThrough(ctx context.Context, r *http.Request, head []byte, requestID string) *http.Request {
	out := r.Clone(ctx)
	if len(head) > 0 {
		out.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
		out.GetBody = nil
	}
	out.Header.Set(HeaderRequestID, requestID)
	return out
}

func withBody(r *http.Request, body []byte) *http.Request {
	out := r.Clone(r.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	if len(body) > 0 {
		out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return out
}

func decodeBody(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if body == nil {
		return nil, errors.New("body is not a JSON object")
	}
	return body, nil
}

func intField(body map[string]any, key string) int {
	switch v := body[key].(type) {
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case float64:
		return int(v)
	}
	return 0
}

func extractMessages(body map[string]any) []tokens.Message {
	raw, _ := body["messages"].([]any)
	out := make([]tokens.Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		name, _ := m["name"].(string)
		out = append(out, tokens.Message{Role: role, Name: name, Content: contentText(m["content"])})
	}
	return out
}

// contentText flattens string or multimodal content to text. Non-text
// parts are skipped.
func contentText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		var parts []string
		for _, part := range c {
			p, ok := part.(map[string]any)
			if !ok || p["type"] != "text" {
				continue
			}
			if text, ok := p["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprintf("%v", content)
}
