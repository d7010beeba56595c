package tasks

import (
	"github.com/kuadrant/wasm-shim-go/pkg/attr"
	"github.com/kuadrant/wasm-shim-go/pkg/pipeline"
	"github.com/kuadrant/wasm-shim-go/pkg/reqctx"
)

// SendReplyTask short-circuits the request with a synthetic HTTP
// response, terminating the pipeline (spec §4.9). It is always wrapped in
// a Terminate outcome by the task that constructs it.
type SendReplyTask struct {
	status  int
	headers attr.Headers
	body    []byte
}

// NewSendReplyTask builds a SendReplyTask for the given status/headers/body.
func NewSendReplyTask(status int, headers attr.Headers, body []byte) *SendReplyTask {
	return &SendReplyTask{status: status, headers: headers, body: body}
}

// InternalServerError builds the synthetic 500 reply a task falls back to
// when a failure-mode "deny" service call errors out.
func InternalServerError() *SendReplyTask {
	return NewSendReplyTask(500, attr.Headers{}, []byte("Internal Server Error.\n"))
}

// TooManyRequests builds the synthetic 429 reply a RateLimitTask returns
// when the configured backend denies the request and carries no explicit
// status override.
func TooManyRequests(headers attr.Headers, body []byte) *SendReplyTask {
	return NewSendReplyTask(429, headers, body)
}

func (t *SendReplyTask) ID() (string, bool)     { return "", false }
func (t *SendReplyTask) Dependencies() []string { return nil }
func (t *SendReplyTask) PausesFilter() bool     { return false }

func (t *SendReplyTask) Apply(ctx *reqctx.Context) pipeline.Outcome {
	if err := ctx.SendHTTPReply(t.status, t.headers, t.body); err != nil {
		ctx.Logger().V(1).Info("send reply task: failed", "error", err)
		return pipeline.Failed()
	}
	return pipeline.Done()
}
