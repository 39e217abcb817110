package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/chatrelay/pkg/auth"
	"github.com/rhuss/chatrelay/pkg/chat"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/transport"
)

// relayBufferSize bounds how much of the translated stream is held before
// it is written and flushed to the client.
const relayBufferSize = 4096

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Messages []chat.Message `json:"messages"`
	Pass     string         `json:"pass,omitempty"`
}

// generateHandler serves POST /api/generate.
type generateHandler struct {
	gen         transport.Generator
	gate        *auth.PasswordGate
	validation  chat.ValidationConfig
	maxBodySize int64
	logger      *slog.Logger
	tracer      trace.Tracer
}

func (h *generateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := h.tracer.Start(ctx, "POST "+GeneratePath, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	r = r.WithContext(ctx)

	reject := func(apiErr *chat.APIError, status int) {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		span.SetStatus(codes.Error, apiErr.Message)
		transport.WriteErrorResponse(w, apiErr, status)
	}

	if !acceptedContentType(r.Header.Get("Content-Type")) {
		reject(chat.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			reject(chat.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", h.maxBodySize)),
				http.StatusRequestEntityTooLarge)
			return
		}
		reject(chat.NewInvalidRequestError("body", "invalid JSON: "+err.Error()), http.StatusBadRequest)
		return
	}

	if err := h.gate.Check(req.Pass); err != nil {
		observability.AuthRejectedTotal.Inc()
		h.logger.WarnContext(ctx, "site password rejected",
			"request_id", transport.RequestIDFromContext(ctx),
		)
		reject(chat.NewUnauthenticatedError("invalid password"), http.StatusUnauthorized)
		return
	}

	if apiErr := chat.ValidateConversation(req.Messages, h.validation); apiErr != nil {
		reject(apiErr, transport.HTTPStatusFromError(apiErr))
		return
	}
	span.SetAttributes(attribute.Int("chat.messages", len(req.Messages)))

	resp, err := h.gen.Generate(ctx, req.Messages)
	if err != nil {
		var apiErr *chat.APIError
		if !errors.As(err, &apiErr) {
			apiErr = chat.NewServerError(err.Error())
		}
		h.logger.ErrorContext(ctx, "generate failed",
			"request_id", transport.RequestIDFromContext(ctx),
			"error", err,
		)
		span.RecordError(err)
		reject(apiErr, transport.HTTPStatusFromError(apiErr))
		return
	}

	h.relay(w, r, resp, span)
}

// relay copies resp to w, flushing after every chunk so the client sees
// text as soon as the upstream produces it. A read error after the status
// line has been sent aborts the connection so the client can tell a
// truncated stream from a finished one.
func (h *generateHandler) relay(w http.ResponseWriter, r *http.Request, resp *http.Response, span trace.Span) {
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if resp.StatusCode == http.StatusOK {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")
	} else {
		span.SetStatus(codes.Error, resp.Status)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	buf := make([]byte, relayBufferSize)
	var total int64
	defer func() {
		span.SetAttributes(attribute.Int64("relay.bytes", total))
	}()

	for {
		n, err := resp.Body.Read(buf)
		total += int64(n)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.DebugContext(r.Context(), "client went away",
					"request_id", transport.RequestIDFromContext(r.Context()),
					"error", werr,
				)
				span.AddEvent("client disconnected")
				return
			}
			_ = rc.Flush()
		}
		if err == io.EOF {
			debug.Log("transport", "relay finished",
				"request_id", transport.RequestIDFromContext(r.Context()),
				"status", resp.StatusCode,
				"bytes", total,
			)
			return
		}
		if err != nil {
			h.logger.WarnContext(r.Context(), "stream terminated with error",
				"request_id", transport.RequestIDFromContext(r.Context()),
				"status", resp.StatusCode,
				"error", err,
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream terminated")
			panic(http.ErrAbortHandler)
		}
	}
}

// acceptedContentType reports whether a request body of type ct is decoded
// as JSON. Browser fetch calls that post a JSON string without setting a
// header arrive as text/plain.
func acceptedContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || mediaType == "text/plain"
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok")
}
