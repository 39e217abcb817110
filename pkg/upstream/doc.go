// Package upstream talks to an OpenAI-compatible Chat Completions endpoint
// and turns its streaming responses into plain text.
//
// Two pieces do the work and share no state:
//
//   - [Builder] turns a conversation and an API key into an immutable
//     [RequestDescriptor] for a single streaming POST.
//   - [Translate] turns the upstream server-sent-event response into a new
//     response whose body yields the concatenated content deltas as they
//     arrive. Failed upstream responses are passed through unchanged.
//
// [Client] composes both around an http.Client.
package upstream
