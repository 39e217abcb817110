// Command mock-backend runs a deterministic streaming Chat Completions
// server for local development of the relay. The last user message
// selects the scenario:
//
//	"count from 1 to 5" - streams "1, 2, 3, 4, 5"
//	"malformed"         - sends a data line that is not JSON
//	"truncate"          - ends the stream without [DONE]
//	"no choices"        - sends a chunk with an empty choices list
//	anything else       - streams "Hello, nice day!"
//
// Requests without a bearer token are rejected with 401 in the upstream
// error format.
//
// Configuration:
//
//	MOCK_PORT  - Listen port (default: 9090)
//	MOCK_DELAY - Pause between tokens, e.g. 50ms (default: 0)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rhuss/chatrelay/pkg/chat"
	"github.com/rhuss/chatrelay/pkg/upstream"
)

func main() {
	port := os.Getenv("MOCK_PORT")
	if port == "" {
		port = "9090"
	}

	var delay time.Duration
	if v := os.Getenv("MOCK_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Error("invalid MOCK_DELAY", "value", v, "error", err)
			os.Exit(1)
		}
		delay = d
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(delay),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "delay", delay)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func newMux(delay time.Duration) *http.ServeMux {
	b := &backend{delay: delay}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", b.handleChatCompletions)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

type backend struct {
	delay time.Duration
}

func (b *backend) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer")
	if !ok || strings.TrimSpace(token) == "" {
		writeUpstreamError(w, http.StatusUnauthorized, "invalid_request_error", "You didn't provide an API key.")
		return
	}

	var req upstream.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeUpstreamError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: "+err.Error())
		return
	}
	if !req.Stream {
		writeUpstreamError(w, http.StatusBadRequest, "invalid_request_error", "mock backend only supports stream=true")
		return
	}

	b.stream(r.Context(), w, &req)
}

func (b *backend) stream(ctx context.Context, w http.ResponseWriter, req *upstream.ChatCompletionRequest) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	model := req.Model
	if model == "" {
		model = "mock-model"
	}

	prompt := strings.ToLower(lastUserMessage(req.Messages))
	tokens := []string{"Hello", ", ", "nice", " ", "day", "!"}
	if strings.Contains(prompt, "count from 1 to 5") {
		tokens = []string{"1", ", ", "2", ", ", "3", ", ", "4", ", ", "5"}
	}

	// Role-only chunk first, like the real API.
	writeChunk(w, model, upstream.ChatChunkDelta{Role: "assistant"}, nil)
	rc.Flush()

	for i, token := range tokens {
		if i > 0 && b.delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.delay):
			}
		}
		content := token
		writeChunk(w, model, upstream.ChatChunkDelta{Content: &content}, nil)
		rc.Flush()

		if i == 1 {
			switch {
			case strings.Contains(prompt, "malformed"):
				fmt.Fprint(w, "data: {not json\n\n")
				rc.Flush()
				return
			case strings.Contains(prompt, "no choices"):
				fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-mock-stream\",\"model\":%q,\"choices\":[]}\n\n", model)
				rc.Flush()
				return
			case strings.Contains(prompt, "truncate"):
				return
			}
		}
	}

	// Final chunk carries only the finish reason.
	stop := "stop"
	writeChunk(w, model, upstream.ChatChunkDelta{}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

func writeChunk(w http.ResponseWriter, model string, delta upstream.ChatChunkDelta, finish *string) {
	chunk := upstream.ChatCompletionChunk{
		ID:     "chatcmpl-mock-stream",
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []upstream.ChatChunkChoice{
			{Index: 0, Delta: delta, FinishReason: finish},
		},
	}
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeUpstreamError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}

func lastUserMessage(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
