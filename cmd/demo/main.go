// Command demo walks through the relay core without a network: it builds
// an upstream request for a short conversation, then translates canned
// upstream event streams into plain text.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/rhuss/chatrelay/pkg/chat"
	"github.com/rhuss/chatrelay/pkg/upstream"
)

func main() {
	if err := run(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(w io.Writer) error {
	fmt.Fprintln(w, "=== chatrelay core demo ===")

	// 1. Build the upstream request.
	conv := []chat.Message{{Role: chat.RoleUser, Content: "How do I say good morning?"}}
	desc, sent := upstream.NewBuilder("").Build("sk-demo", conv)

	fmt.Fprintf(w, "\n[1] %s request, %d message(s) after system prompt insertion\n", desc.Method(), len(sent))
	fmt.Fprintf(w, "    Content-Type: %s\n", desc.Header().Get("Content-Type"))
	fmt.Fprintf(w, "    Body: %s\n", desc.Body())
	fmt.Fprintf(w, "    Caller's conversation untouched: %d message(s)\n", len(conv))

	// 2. Translate a complete stream. The multi-byte character is split
	// across two reads.
	complete := "data: {\"choices\":[{\"delta\":{\"content\":\"Zou san\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" 早晨\"}}]}\n\n" +
		"data: [DONE]\n\n"
	split := strings.Index(complete, "早") + 1
	text, err := translate(complete[:split], complete[split:])
	fmt.Fprintf(w, "\n[2] Complete stream: %q (error: %v)\n", text, err)

	// 3. A malformed event ends the stream with an error.
	text, err = translate(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n",
		"data: {oops\n\n",
	)
	var malformed *upstream.MalformedEventError
	fmt.Fprintf(w, "\n[3] Malformed stream: %q (malformed: %v)\n", text, errors.As(err, &malformed))

	// 4. A stream that stops without [DONE].
	text, err = translate("data: {\"choices\":[{\"delta\":{\"content\":\"Hal\"}}]}\n\n")
	fmt.Fprintf(w, "\n[4] Truncated stream: %q (unexpected end: %v)\n", text, errors.Is(err, upstream.ErrStreamEndedUnexpectedly))

	// 5. Upstream rejections pass through untouched.
	rejected := upstream.Translate(&http.Response{
		Status:     "401 Unauthorized",
		StatusCode: http.StatusUnauthorized,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"bad key"}}`)),
	})
	body, _ := io.ReadAll(rejected.Body)
	rejected.Body.Close()
	fmt.Fprintf(w, "\n[5] Rejected: %s %s\n", rejected.Status, body)

	fmt.Fprintln(w, "\n=== demo complete ===")
	return nil
}

// translate feeds reads through the translator and collects the text.
func translate(reads ...string) (string, error) {
	var parts []io.Reader
	for _, r := range reads {
		parts = append(parts, strings.NewReader(r))
	}
	resp := upstream.Translate(&http.Response{
		Status:     "200 OK",
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:       io.NopCloser(io.MultiReader(parts...)),
	})
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err := io.Copy(&buf, resp.Body)
	return buf.String(), err
}
