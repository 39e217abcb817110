package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/observability"
	"github.com/rhuss/chatrelay/pkg/sse"
)

// doneSentinel is the data payload that ends a successful stream.
const doneSentinel = "[DONE]"

// readBufferSize bounds how much upstream input is decoded per read.
const readBufferSize = 4096

// Translate converts an upstream chat completion response into a response
// whose body is the plain text of the streamed content deltas.
//
// A response with a non-2xx status is returned with the same status code,
// status text and body; nothing is parsed. Otherwise the returned body is
// produced incrementally by a single goroutine reading resp.Body. Reads of
// the returned body end with:
//
//   - io.EOF after the [DONE] sentinel;
//   - a *MalformedEventError if an event payload cannot be decoded;
//   - ErrStreamEndedUnexpectedly if the upstream body ends before [DONE];
//   - the upstream read error otherwise.
//
// Text delivered before a failure stays delivered. Closing the returned body
// closes resp.Body, which stops the reader goroutine.
func Translate(resp *http.Response) *http.Response {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.StreamOutcomesTotal.WithLabelValues(observability.OutcomeUpstreamStatus).Inc()

		header := make(http.Header)
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			header.Set("Content-Type", ct)
		}
		return &http.Response{
			Status:        resp.Status,
			StatusCode:    resp.StatusCode,
			Proto:         resp.Proto,
			ProtoMajor:    resp.ProtoMajor,
			ProtoMinor:    resp.ProtoMinor,
			Header:        header,
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
			Request:       resp.Request,
		}
	}

	pr, pw := io.Pipe()
	t := &translator{out: pw}
	t.parser = sse.NewParser(t.handleEvent)

	go t.run(resp.Body)

	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          &streamBody{PipeReader: pr, upstream: resp.Body},
		ContentLength: -1,
		Request:       resp.Request,
	}
}

// streamBody is the body of a translated response. Closing it also closes
// the upstream body so a reader goroutine blocked on the network returns.
type streamBody struct {
	*io.PipeReader
	upstream io.Closer
}

func (b *streamBody) Close() error {
	b.PipeReader.Close()
	return b.upstream.Close()
}

// translator holds the state of one translated stream. It is owned by the
// reader goroutine.
type translator struct {
	out    *io.PipeWriter
	parser *sse.Parser
	done   bool
}

func (t *translator) run(body io.ReadCloser) {
	defer body.Close()

	// The decoder holds back a multi-byte character split across reads
	// until its remaining bytes arrive.
	text := transform.NewReader(body, unicode.UTF8.NewDecoder())
	buf := make([]byte, readBufferSize)

	for {
		n, err := text.Read(buf)
		if n > 0 {
			t.parser.Feed(string(buf[:n]))
			if t.done {
				return
			}
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			t.fail(ErrStreamEndedUnexpectedly, observability.OutcomeUnexpectedEOF)
		case errors.Is(err, context.Canceled), errors.Is(err, io.ErrClosedPipe):
			t.fail(fmt.Errorf("reading upstream stream: %w", err), observability.OutcomeCancelled)
		default:
			t.fail(fmt.Errorf("reading upstream stream: %w", err), observability.OutcomeReadError)
		}
		return
	}
}

// handleEvent is the parser callback. Events after a terminal state,
// including later events from the same read, are dropped.
func (t *translator) handleEvent(ev sse.Event) {
	if t.done {
		return
	}

	debug.Trace("streaming", "upstream event",
		"type", ev.Type,
		"data", debug.Truncate(ev.Data, 500),
	)

	if ev.Data == doneSentinel {
		t.done = true
		observability.StreamOutcomesTotal.WithLabelValues(observability.OutcomeCompleted).Inc()
		t.out.Close()
		return
	}

	delta, err := decodeDelta(ev.Data)
	if err != nil {
		slog.Warn("aborting stream on malformed event",
			"error", err.Error(),
			"data", debug.Truncate(ev.Data, 200),
		)
		t.fail(err, observability.OutcomeMalformed)
		return
	}

	if delta == "" {
		return
	}

	n, err := t.out.Write([]byte(delta))
	observability.StreamedBytesTotal.Add(float64(n))
	if err != nil {
		// The consumer closed the body.
		t.done = true
		observability.StreamOutcomesTotal.WithLabelValues(observability.OutcomeCancelled).Inc()
	}
}

func (t *translator) fail(err error, outcome string) {
	t.done = true
	observability.StreamOutcomesTotal.WithLabelValues(outcome).Inc()
	t.out.CloseWithError(err)
}

// decodeDelta extracts the first choice's content delta from an event
// payload. A missing content field is an empty delta; a payload that is not
// a chunk with at least one choice is an error.
func decodeDelta(data string) (string, error) {
	var chunk ChatCompletionChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", &MalformedEventError{Data: debug.Truncate(data, 200), Err: err}
	}
	if len(chunk.Choices) == 0 {
		return "", &MalformedEventError{Data: debug.Truncate(data, 200), Err: errNoChoices}
	}
	return ExtractDeltaContent(chunk.Choices[0].Delta.Content), nil
}

// ExtractDeltaContent safely extracts the content string from a delta pointer.
func ExtractDeltaContent(content *string) string {
	if content == nil {
		return ""
	}
	return *content
}
