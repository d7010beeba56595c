// Package httpfilter adapts the engine to a real net/http.Server: it
// implements host.Resolver directly over an inbound request/response pair
// and drives a pkg/pipeline.Pipeline to completion around a wrapped
// http.Handler, the minimal stand-in for the proxy glue a production
// deployment (an Envoy wasm plugin, an Envoy ext_proc sidecar) would
// otherwise supply.
package httpfilter

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/go-logr/logr"

	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/blueprint"
	"github.com/kuadrant/wasm-shim-go/pkg/config"
	"github.com/kuadrant/wasm-shim-go/pkg/observability/metrics"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline/tasks"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// BlueprintSource returns the most recently compiled policy, e.g.
// (*internal/reload.Watcher).Current.
type BlueprintSource func() *blueprint.Result

// Middleware wraps next with the compiled pipeline: every request is
// matched against the current blueprint index by Host, run through its
// configured actions, and forwarded to next or replied to directly. next is
// called once: mid-pipeline if a task needs response data, otherwise after
// the pipeline completes without a reply.
type Middleware struct {
	blueprints BlueprintSource
	dispatcher grpcDispatcher
	logger     logr.Logger
	next       http.Handler
}

// New builds a Middleware. logger is the per-process logger new requests'
// contexts are scoped under (see pkg/observability/logging).
func New(blueprints BlueprintSource, logger logr.Logger, next http.Handler) *Middleware {
	return newMiddleware(blueprints, newDispatcher(), logger, next)
}

func newMiddleware(blueprints BlueprintSource, d grpcDispatcher, logger logr.Logger, next http.Handler) *Middleware {
	return &Middleware{
		blueprints: blueprints,
		dispatcher: d,
		logger:     logger,
		next:       next,
	}
}

// Close releases pooled gRPC connections, if the underlying dispatcher
// owns any. Call once at process shutdown.
func (m *Middleware) Close() {
	if c, ok := m.dispatcher.(interface{ Close() }); ok {
		c.Close()
	}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result := m.blueprints()
	if result == nil {
		http.Error(w, "policy not loaded", http.StatusServiceUnavailable)
		return
	}

	res := newResolver(r, m.dispatcher)
	ctx := reqctx.New(r.Context(), res, m.logger)

	bp, outcome, err := blueprint.Select(result.Index, r.Host, func(candidate *blueprint.Blueprint) (attr.State[bool], error) {
		return candidate.RoutePredicates.Apply(ctx)
	})
	if err != nil {
		m.logger.Error(err, "httpfilter: route selection failed", "host", r.Host)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	metrics.BlueprintSelections.WithLabelValues(selectOutcomeLabel(outcome)).Inc()
	if outcome != blueprint.Matched {
		// DataPending would mean a route predicate needs a response
		// attribute this adapter cannot have yet; in practice route
		// predicates only ever reference request-phase attributes, which
		// are all resolved synchronously above, so this never blocks on
		// upstream the way a real proxy's route-selection phase might.
		m.forwardUpstream(res, r)
		m.writeResponse(w, res)
		return
	}

	if _, err := ctx.EvalRequestData(result.RequestData); err != nil {
		m.logger.Error(err, "httpfilter: request-data evaluation failed", "blueprint", bp.Name)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	p := pipeline.New(ctx).WithTasks(buildTasks(bp.Actions)...)
	m.drive(p, res, r)

	if res.replySent {
		writeReply(w, res)
		return
	}
	if !res.upstreamCalled {
		m.forwardUpstream(res, r)
	}
	m.writeResponse(w, res)
}

// drive alternates Eval/Digest with forwarding to the wrapped handler
// until the pipeline reports completion. A digested token's payload must
// be staged on the resolver immediately before the matching Digest call,
// since GetGRPCResponse carries no token parameter of its own.
func (m *Middleware) drive(p *pipeline.Pipeline, res *resolver, r *http.Request) {
	cur := p.Eval()
	metrics.PipelineEvaluations.WithLabelValues(evalOutcomeLabel(cur)).Inc()

	for cur != nil {
		if tok, result, ok := res.popReady(); ok {
			cur = cur.Digest(tok, result.status, len(result.payload))
			metrics.PipelineEvaluations.WithLabelValues(evalOutcomeLabel(cur)).Inc()
			continue
		}
		if res.needsUpstream && !res.upstreamCalled {
			m.forwardUpstream(res, r)
			cur = cur.Eval()
			metrics.PipelineEvaluations.WithLabelValues(evalOutcomeLabel(cur)).Inc()
			continue
		}
		m.logger.Error(nil, "httpfilter: pipeline made no progress; aborting request")
		return
	}
}

// forwardUpstream calls next with the (possibly task-mutated) request
// headers and records its response on the resolver, unblocking any task
// waiting on response.* attributes, response headers, or the response
// body. It is a no-op if upstream has already been called once.
func (m *Middleware) forwardUpstream(res *resolver, r *http.Request) {
	if res.upstreamCalled {
		return
	}

	outReq := r.Clone(r.Context())
	outReq.Header = headersToHTTP(res.reqHeaders)

	rec := httptest.NewRecorder()
	m.next.ServeHTTP(rec, outReq)

	res.recordUpstreamResponse(rec.Code, headersFromHTTP(rec.Header()), rec.Body.Bytes())
}

func (m *Middleware) writeResponse(w http.ResponseWriter, res *resolver) {
	dst := w.Header()
	for _, p := range res.respHeaders.Entries() {
		dst.Add(p.Name, p.Value)
	}
	status := res.respStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.Copy(w, bytes.NewReader(res.respBody))
}

func writeReply(w http.ResponseWriter, res *resolver) {
	dst := w.Header()
	for _, p := range res.replyHeaders.Entries() {
		dst.Add(p.Name, p.Value)
	}
	status := res.replyStatus
	if status == 0 {
		status = http.StatusForbidden
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.replyBody)
}

func buildTasks(actions []blueprint.Action) []pipeline.Task {
	out := make([]pipeline.Task, 0, len(actions))
	for i := range actions {
		a := &actions[i]
		switch a.Service.Type {
		case config.ServiceAuth:
			out = append(out, tasks.NewAuthTask(a))
		case config.ServiceRateLimit, config.ServiceRateLimitCheck, config.ServiceRateLimitReport:
			out = append(out, tasks.NewRateLimitTask(a))
		}
	}
	return out
}

func selectOutcomeLabel(o blueprint.SelectOutcome) string {
	switch o {
	case blueprint.Matched:
		return "matched"
	case blueprint.DataPending:
		return "pending"
	default:
		return "no_match"
	}
}

func evalOutcomeLabel(p *pipeline.Pipeline) string {
	if p == nil {
		return "complete"
	}
	return "in_progress"
}
