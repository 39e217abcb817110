package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/chatrelay/pkg/auth"
	"github.com/rhuss/chatrelay/pkg/chat"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/transport"
	"github.com/rhuss/chatrelay/pkg/upstream"
)

// textResponse builds a translated-style response carrying body.
func textResponse(body io.Reader) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       io.NopCloser(body),
	}
}

func staticGenerator(resp *http.Response, err error) transport.Generator {
	return transport.GeneratorFunc(func(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
		return resp, err
	})
}

func newTestServer(gen transport.Generator, opts ...ServerOption) *Server {
	opts = append([]ServerOption{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewServer(gen, opts...)
}

func postGenerate(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, GeneratePath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const helloBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestGenerateStreamsText(t *testing.T) {
	srv := newTestServer(staticGenerator(textResponse(strings.NewReader("Hello, world")), nil))

	rec := postGenerate(t, srv.Handler(), helloBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hello, world" {
		t.Errorf("body = %q, want %q", got, "Hello, world")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/plain; charset=utf-8", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if !rec.Flushed {
		t.Error("expected response to be flushed")
	}
}

func TestGeneratePassesMessagesThrough(t *testing.T) {
	var got []chat.Message
	gen := transport.GeneratorFunc(func(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
		got = msgs
		return textResponse(strings.NewReader("")), nil
	})
	srv := newTestServer(gen)

	body := `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"},{"role":"assistant","content":"yo"}]}`
	rec := postGenerate(t, srv.Handler(), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	want := []chat.Message{
		{Role: chat.RoleSystem, Content: "be brief"},
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "yo"},
	}
	if len(got) != len(want) {
		t.Fatalf("generator got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("messages[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGenerateRequestErrors(t *testing.T) {
	called := false
	gen := transport.GeneratorFunc(func(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
		called = true
		return textResponse(strings.NewReader("")), nil
	})

	tests := []struct {
		name        string
		contentType string
		body        string
		opts        []ServerOption
		wantStatus  int
		wantParam   string
	}{
		{
			name:        "invalid json",
			contentType: "application/json",
			body:        `{"messages":`,
			wantStatus:  http.StatusBadRequest,
			wantParam:   "body",
		},
		{
			name:        "wrong content type",
			contentType: "application/xml",
			body:        helloBody,
			wantStatus:  http.StatusUnsupportedMediaType,
			wantParam:   "content_type",
		},
		{
			name:        "body too large",
			contentType: "application/json",
			body:        helloBody,
			opts:        []ServerOption{WithMaxBodySize(10)},
			wantStatus:  http.StatusRequestEntityTooLarge,
			wantParam:   "body",
		},
		{
			name:        "empty conversation",
			contentType: "application/json",
			body:        `{"messages":[]}`,
			wantStatus:  http.StatusBadRequest,
			wantParam:   "messages",
		},
		{
			name:        "unknown role",
			contentType: "application/json",
			body:        `{"messages":[{"role":"tool","content":"x"}]}`,
			wantStatus:  http.StatusBadRequest,
			wantParam:   "messages[0].role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			srv := newTestServer(gen, tt.opts...)

			req := httptest.NewRequest(http.MethodPost, GeneratePath, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp chat.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if resp.Error == nil || resp.Error.Param != tt.wantParam {
				t.Errorf("error = %+v, want param %q", resp.Error, tt.wantParam)
			}
			if called {
				t.Error("generator should not be called for a rejected request")
			}
		})
	}
}

func TestAcceptedContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"", true},
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/plain;charset=UTF-8", true},
		{"application/xml", false},
		{"multipart/form-data; boundary=x", false},
		{"not a media type;;", false},
	}
	for _, tt := range tests {
		if got := acceptedContentType(tt.ct); got != tt.want {
			t.Errorf("acceptedContentType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}

func TestGeneratePasswordGate(t *testing.T) {
	srv := newTestServer(
		transport.GeneratorFunc(func(ctx context.Context, msgs []chat.Message) (*http.Response, error) {
			return textResponse(strings.NewReader("ok")), nil
		}),
		WithPasswordGate(auth.NewPasswordGate("hunter2")),
	)

	before := counterValue(t, observability.AuthRejectedTotal)

	rec := postGenerate(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}],"pass":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}
	if got := counterValue(t, observability.AuthRejectedTotal); got != before+1 {
		t.Errorf("auth rejected counter = %v, want %v", got, before+1)
	}

	rec = postGenerate(t, srv.Handler(), helloBody)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing password: status = %d, want 401", rec.Code)
	}

	rec = postGenerate(t, srv.Handler(), `{"messages":[{"role":"user","content":"hi"}],"pass":"hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("correct password: status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Errorf("body = %q, want %q", got, "ok")
	}
}

func TestGenerateUpstreamStatusPassthrough(t *testing.T) {
	upstreamBody := `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	resp := &http.Response{
		Status:     "401 Unauthorized",
		StatusCode: http.StatusUnauthorized,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(upstreamBody)),
	}
	srv := newTestServer(staticGenerator(resp, nil))

	rec := postGenerate(t, srv.Handler(), helloBody)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if got := rec.Body.String(); got != upstreamBody {
		t.Errorf("body = %q, want upstream body unchanged", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "" {
		t.Errorf("Cache-Control = %q, want unset on passthrough", cc)
	}
}

func TestGenerateGeneratorErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   chat.ErrorType
	}{
		{
			name:       "upstream unreachable",
			err:        chat.NewUpstreamError("upstream request failed: connection refused"),
			wantStatus: http.StatusBadGateway,
			wantType:   chat.ErrorTypeUpstream,
		},
		{
			name:       "wrapped api error",
			err:        fmt.Errorf("generating: %w", chat.NewUpstreamError("timeout")),
			wantStatus: http.StatusBadGateway,
			wantType:   chat.ErrorTypeUpstream,
		},
		{
			name:       "plain error",
			err:        errors.New("something broke"),
			wantStatus: http.StatusInternalServerError,
			wantType:   chat.ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(staticGenerator(nil, tt.err))

			rec := postGenerate(t, srv.Handler(), helloBody)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp chat.ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if resp.Error == nil || resp.Error.Type != tt.wantType {
				t.Errorf("error = %+v, want type %q", resp.Error, tt.wantType)
			}
		})
	}
}

func TestGenerateStreamErrorAbortsConnection(t *testing.T) {
	body := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("upstream reset")))
	srv := newTestServer(staticGenerator(textResponse(body), nil))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+GeneratePath, "application/json", strings.NewReader(helloBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatal("expected truncated stream to surface a read error")
	}
	if string(got) != "partial" {
		t.Errorf("received %q before abort, want %q", got, "partial")
	}
}

func TestGenerateClientDisconnectClosesStream(t *testing.T) {
	closed := make(chan struct{})
	pr, pw := io.Pipe()
	resp := textResponse(nil)
	resp.Body = &closeNotifier{ReadCloser: pr, closed: closed}

	srv := newTestServer(staticGenerator(resp, nil))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	go func() {
		pw.Write([]byte("first"))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+GeneratePath, strings.NewReader(helloBody))
	req.Header.Set("Content-Type", "application/json")
	clientResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := io.ReadFull(clientResp.Body, buf); err != nil {
		t.Fatalf("reading first chunk: %v", err)
	}
	cancel()
	clientResp.Body.Close()

	// Keep writing until the handler notices the client is gone.
	go func() {
		for {
			if _, err := pw.Write([]byte("more")); err != nil {
				return
			}
		}
	}()

	<-closed
}

type closeNotifier struct {
	io.ReadCloser
	closed chan struct{}
}

func (c *closeNotifier) Close() error {
	err := c.ReadCloser.Close()
	close(c.closed)
	return err
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(staticGenerator(nil, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Errorf("body = %q, want ok", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(staticGenerator(nil, nil), WithMetrics("/metrics"))

	// Generate at least one observation.
	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, HealthPath, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chatrelay_requests_total") {
		t.Error("metrics output missing chatrelay_requests_total")
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	srv := newTestServer(staticGenerator(nil, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGenerateMethodNotAllowed(t *testing.T) {
	srv := newTestServer(staticGenerator(nil, nil))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, GeneratePath, nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// TestGenerateEndToEnd runs the relay against a fake chat completions
// endpoint through the real upstream client.
func TestGenerateEndToEnd(t *testing.T) {
	upstreamReqs := make(chan upstream.ChatCompletionRequest, 1)
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", got)
		}
		var req upstream.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		upstreamReqs <- req

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Nei ", "hou", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
			w.(http.Flusher).Flush()
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer fake.Close()

	client := upstream.NewClient(upstream.Config{
		BaseURL: fake.URL,
		APIKey:  "sk-test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer client.Close()

	srv := newTestServer(client)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+GeneratePath, "application/json", bytes.NewBufferString(helloBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(got) != "Nei hou!" {
		t.Errorf("body = %q, want %q", got, "Nei hou!")
	}

	upstreamReq := <-upstreamReqs
	if len(upstreamReq.Messages) != 2 {
		t.Fatalf("upstream got %d messages, want system prompt + 1", len(upstreamReq.Messages))
	}
	if upstreamReq.Messages[0].Role != chat.RoleSystem {
		t.Errorf("upstream messages[0].role = %q, want system", upstreamReq.Messages[0].Role)
	}
	if !upstreamReq.Stream {
		t.Error("upstream request should set stream=true")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("writing counter metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestGenerateRecordsServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	srv := newTestServer(staticGenerator(textResponse(strings.NewReader("Hello")), nil), WithTracerProvider(tp))
	postGenerate(t, srv.Handler(), helloBody)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "POST "+GeneratePath {
		t.Errorf("span name = %q, want %q", span.Name(), "POST "+GeneratePath)
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", span.SpanKind())
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["http.response.status_code"].AsInt64(); got != http.StatusOK {
		t.Errorf("http.response.status_code = %d, want 200", got)
	}
	if got := attrs["relay.bytes"].AsInt64(); got != int64(len("Hello")) {
		t.Errorf("relay.bytes = %d, want %d", got, len("Hello"))
	}
	if got := attrs["chat.messages"].AsInt64(); got != 1 {
		t.Errorf("chat.messages = %d, want 1", got)
	}
}

func TestRejectedRequestSpanIsError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	srv := newTestServer(staticGenerator(nil, nil), WithTracerProvider(tp))
	postGenerate(t, srv.Handler(), `{"messages":[]}`)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spans[0].Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want error", got)
	}
}
