package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/rhuss/chatrelay/pkg/chat"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-3.5-turbo"

	// Temperature is the sampling temperature sent with every request.
	Temperature = 0.8
)

// Builder produces upstream requests for conversations.
type Builder struct {
	// Model is the upstream model identifier. Empty selects DefaultModel.
	Model string

	// SystemPrompt is the content of the system message added to
	// conversations that lack one. Empty selects chat.DefaultSystemPrompt.
	SystemPrompt string
}

// NewBuilder returns a Builder for the given model, falling back to
// DefaultModel when model is empty.
func NewBuilder(model string) *Builder {
	if model == "" {
		model = DefaultModel
	}
	return &Builder{Model: model}
}

// Build returns the descriptor of a streaming chat completion request for
// msgs, authenticated with apiKey. The conversation actually sent, with the
// system message ensured, is returned alongside; msgs itself is not modified.
func (b *Builder) Build(apiKey string, msgs []chat.Message) (RequestDescriptor, []chat.Message) {
	model := b.Model
	if model == "" {
		model = DefaultModel
	}

	sent := chat.EnsureSystemMessage(msgs, b.SystemPrompt)

	body, err := json.Marshal(ChatCompletionRequest{
		Model:       model,
		Messages:    sent,
		Temperature: Temperature,
		Stream:      true,
	})
	if err != nil {
		// Strings, a float and a bool always marshal.
		panic("upstream: marshal chat completion request: " + err.Error())
	}

	header := make(http.Header, 2)
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+apiKey)

	return RequestDescriptor{
		method: http.MethodPost,
		header: header,
		body:   body,
	}, sent
}

// RequestDescriptor is an immutable description of one upstream request.
// Accessors return copies.
type RequestDescriptor struct {
	method string
	header http.Header
	body   []byte
}

// Method returns the HTTP method.
func (d RequestDescriptor) Method() string { return d.method }

// Header returns a copy of the request headers.
func (d RequestDescriptor) Header() http.Header { return d.header.Clone() }

// Body returns a copy of the serialized JSON body.
func (d RequestDescriptor) Body() []byte { return bytes.Clone(d.body) }

// NewHTTPRequest materializes the descriptor as a request to url bound to ctx.
func (d RequestDescriptor) NewHTTPRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, d.method, url, bytes.NewReader(d.body))
	if err != nil {
		return nil, err
	}
	req.Header = d.header.Clone()
	return req, nil
}
