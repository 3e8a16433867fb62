package model

import (
	"context"
	"iter"
)

// Callback is a deferred computation offered by a module. The dispatcher
// invokes it only if its candidate wins ranking; it may perform network I/O
// and must honor the context deadline, returning an empty Response on
// timeout so the dispatcher falls through to the next candidate.
type Callback func(ctx context.Context) (Response, error)

// Response is one candidate reply for an inbound message. Exactly one of
// Text/Chunks/Stream/Embed (immediate payloads) or Callback (deferred) is
// the primary payload; if a response carries both text and a callback, the
// text wins at send time and the callback is never invoked.
//
// Confidence is a score in [0, 10]. The dispatcher penalizes callback
// candidates by 0.001 at ranking time only — the stored confidence is
// whatever the module reported.
type Response struct {
	Confidence float64

	Text   string
	Chunks []string
	// Stream yields chunks lazily, in order. Consumed exactly once at
	// send time. Takes precedence over Text and Chunks when set.
	Stream iter.Seq[string]
	Embed  *Embed

	Callback Callback

	// Why explains the module's reasoning; it seeds the explanation
	// record for the outbound message.
	Why string

	// Module names the producing module. Set by the dispatcher during
	// collection; callback results inherit it.
	Module string
}

// Empty reports whether the response carries nothing at all: no payload,
// no callback, and zero confidence.
func (r Response) Empty() bool {
	return !r.HasPayload() && r.Callback == nil && r.Confidence == 0
}

// HasPayload reports whether the response carries immediate content.
func (r Response) HasPayload() bool {
	return r.Text != "" || len(r.Chunks) > 0 || r.Stream != nil || r.Embed != nil
}

// Embed is a rich outbound attachment for services that support it.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// EmbedField is a single titled field within an Embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}
