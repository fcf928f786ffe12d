// Package apierr provides the plain-text error surface the router returns to
// clients, including the canonical messages emitted by the routing pipeline.
package apierr

import "github.com/valyala/fasthttp"

// Canonical messages.
const (
	MsgNoProvider    = "No provider found for model"
	MsgAllFailed     = "All providers failed"
	MsgInvalidBody   = "Invalid request body"
	MsgMissingFields = "Request must include model and messages"
)

// Write writes a plain-text error with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("text/plain; charset=utf-8")
	ctx.SetBodyString(message)
}

// WriteNoProvider writes the 400 response for a model no enabled provider serves.
func WriteNoProvider(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusBadRequest, MsgNoProvider)
}

// WriteAllFailed writes the 503 response after every candidate was tried.
func WriteAllFailed(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusServiceUnavailable, MsgAllFailed)
}

// WriteUnprocessable writes a 422 for bodies that fail decoding or lack
// required fields.
func WriteUnprocessable(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusUnprocessableEntity, message)
}
