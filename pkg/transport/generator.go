package transport

import (
	"context"
	"net/http"

	"github.com/rhuss/chatrelay/pkg/chat"
)

// Generator produces the text stream for a conversation. The returned
// response either carries a plain text body (status 200) or an upstream
// failure passed through unchanged. An error means no upstream response
// was obtained at all.
type Generator interface {
	Generate(ctx context.Context, msgs []chat.Message) (*http.Response, error)
}

// GeneratorFunc is an adapter that allows using an ordinary function as a
// Generator.
type GeneratorFunc func(ctx context.Context, msgs []chat.Message) (*http.Response, error)

// Generate calls f(ctx, msgs).
func (f GeneratorFunc) Generate(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
	return f(ctx, msgs)
}
