package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/chatrelay/pkg/chat"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
)

// DefaultBaseURL is the upstream API root used when none is configured.
const DefaultBaseURL = "https://api.openai.com"

// Config configures a Client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string

	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// Zero means no limit. The body of a stream is never subject to a
	// deadline; cancel the request context instead.
	ResponseHeaderTimeout time.Duration

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper

	Logger *slog.Logger

	// TracerProvider supplies the tracer for upstream spans. Nil uses the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Client sends conversations to the upstream chat completions endpoint and
// returns translated text streams.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	builder    *Builder
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		transport = t
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	builder := NewBuilder(cfg.Model)
	builder.SystemPrompt = cfg.SystemPrompt

	return &Client{
		// No Timeout: it would cut off long streams.
		httpClient: &http.Client{Transport: transport},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		builder:    builder,
		logger:     logger,
		tracer:     tp.Tracer(observability.TracerName),
	}
}

// Model returns the upstream model identifier requests are sent with.
func (c *Client) Model() string {
	return c.builder.Model
}

// Generate sends msgs upstream as a streaming chat completion and returns
// the translated response (see Translate). An error is returned only when
// no upstream response was received; upstream rejections come back as a
// response carrying the upstream status and body.
//
// The caller must close the returned body. Cancelling ctx ends the stream.
func (c *Client) Generate(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
	desc, sent := c.builder.Build(c.apiKey, msgs)

	// The span covers the wait for response headers; the stream itself is
	// accounted to the caller's span.
	ctx, span := c.tracer.Start(ctx, "upstream.chat_completions",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", c.builder.Model),
			attribute.Int("llm.messages", len(sent)),
		),
	)
	defer span.End()

	httpReq, err := desc.NewHTTPRequest(ctx, c.baseURL+"/v1/chat/completions")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "building request")
		return nil, chat.NewServerError("failed to create upstream request: " + err.Error())
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	c.logger.DebugContext(ctx, "sending upstream request",
		"model", c.builder.Model,
		"messages", len(sent),
	)
	debug.Log("upstream", "request", "method", desc.Method(), "url", httpReq.URL.String())
	debug.Raw("upstream", string(desc.Body()))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues(c.builder.Model, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unreachable")
		return nil, MapNetworkError(err)
	}
	observability.UpstreamLatency.WithLabelValues(c.builder.Model).Observe(time.Since(start).Seconds())
	observability.UpstreamRequestsTotal.WithLabelValues(c.builder.Model, strconv.Itoa(httpResp.StatusCode)).Inc()

	debug.Log("upstream", "response", "status", httpResp.StatusCode,
		"content_type", httpResp.Header.Get("Content-Type"),
		"latency", time.Since(start))

	span.SetAttributes(attribute.Int("http.response.status_code", httpResp.StatusCode))

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		span.SetStatus(codes.Error, httpResp.Status)
		c.logger.WarnContext(ctx, "upstream rejected request",
			"status", httpResp.StatusCode,
			"model", c.builder.Model,
		)
	}

	return Translate(httpResp), nil
}

// Close releases idle upstream connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
