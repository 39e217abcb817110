// Package sse implements incremental parsing of server-sent event streams.
//
// A [Parser] is fed decoded text in arbitrary pieces (as it arrives from the
// network) and invokes a callback once per complete event. Line endings and
// fields may be split across calls to Feed.
package sse

import (
	"strconv"
	"strings"
	"time"
)

const bom = "\uFEFF"

// Event is a single dispatched server-sent event.
type Event struct {
	// ID is the last event ID seen on the stream, which may have been set by
	// an earlier event.
	ID string

	// Type is the value of the "event" field, empty for unnamed events.
	Type string

	// Data is the concatenation of the event's "data" lines joined with "\n".
	Data string
}

// Parser splits a text stream into events. It is not safe for concurrent use.
type Parser struct {
	onEvent func(Event)

	// OnRetry, if set, is called when the stream sets a reconnection interval.
	OnRetry func(time.Duration)

	line      strings.Builder // incomplete line carried over between feeds
	started   bool
	pendingCR bool

	data      strings.Builder
	hasData   bool
	eventType string
	lastID    string
}

// NewParser returns a Parser that calls onEvent for every dispatched event.
func NewParser(onEvent func(Event)) *Parser {
	return &Parser{onEvent: onEvent}
}

// Feed parses the next piece of the stream. Complete events are dispatched
// synchronously before Feed returns.
func (p *Parser) Feed(text string) {
	if !p.started {
		p.started = true
		text = strings.TrimPrefix(text, bom)
	}

	// A "\r\n" pair split across two feeds is a single line ending.
	if p.pendingCR {
		p.pendingCR = false
		text = strings.TrimPrefix(text, "\n")
	}

	for text != "" {
		i := strings.IndexAny(text, "\r\n")
		if i < 0 {
			p.line.WriteString(text)
			return
		}

		p.line.WriteString(text[:i])
		line := p.line.String()
		p.line.Reset()

		if text[i] == '\r' {
			switch {
			case i+1 < len(text) && text[i+1] == '\n':
				i++
			case i+1 == len(text):
				p.pendingCR = true
			}
		}
		text = text[i+1:]

		p.processLine(line)
	}
}

// Reset discards all buffered state, including the last event ID.
func (p *Parser) Reset() {
	p.line.Reset()
	p.started = false
	p.pendingCR = false
	p.resetEvent()
	p.lastID = ""
}

func (p *Parser) processLine(line string) {
	if line == "" {
		p.dispatch()
		return
	}

	// Comment.
	if line[0] == ':' {
		return
	}

	field, value := line, ""
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		field = line[:idx]
		value = strings.TrimPrefix(line[idx+1:], " ")
	}

	switch field {
	case "event":
		p.eventType = value
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.WriteString(value)
		p.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if p.OnRetry != nil && isDigits(value) {
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.OnRetry(time.Duration(ms) * time.Millisecond)
			}
		}
	default:
		// Unknown fields are ignored.
	}
}

func (p *Parser) dispatch() {
	if !p.hasData {
		p.resetEvent()
		return
	}

	ev := Event{
		ID:   p.lastID,
		Type: p.eventType,
		Data: p.data.String(),
	}
	p.resetEvent()
	p.onEvent(ev)
}

func (p *Parser) resetEvent() {
	p.data.Reset()
	p.hasData = false
	p.eventType = ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
