// Package modules holds the built-in response providers consulted by the
// dispatcher: explanation queries, stamp bookkeeping and the external
// question queue.
package modules

import (
	"context"
	"strings"

	"github.com/kibitzhq/kibitz/internal/dispatch"
	"github.com/kibitzhq/kibitz/internal/model"
)

const amnesiaReply = "I don't remember saying that."

var whyPrefixes = []string{
	"why did you say that",
	"why did you just say that",
	"why'd you say that",
	"what made you say that",
}

// Why answers "why did you say that?" from the dispatcher's explanation
// store. A reply-quoted message is explained directly; a bare question
// explains the assistant's most recent message in the channel. Adding
// "exactly" to the question returns the full resolution trace instead of
// the one-line reason.
type Why struct {
	store *dispatch.ExplanationStore
}

func NewWhy(store *dispatch.ExplanationStore) *Why {
	return &Why{store: store}
}

func (w *Why) Name() string { return "why" }

func (w *Why) ProcessMessage(_ context.Context, msg *model.Message) (model.Response, error) {
	if !msg.Addressed {
		return model.Response{}, nil
	}
	query := strings.ToLower(strings.TrimSpace(msg.Query))
	if !isWhyQuery(query) {
		return model.Response{}, nil
	}

	rec, ok := w.lookup(msg)
	if !ok {
		return model.Response{Confidence: 10, Text: amnesiaReply, Why: "no explanation record found"}, nil
	}

	if strings.Contains(query, "exactly") {
		return model.Response{
			Confidence: 10,
			Chunks:     rec.Trace,
			Why:        "full trace requested",
		}, nil
	}

	why := rec.Why
	if why == "" {
		why = "no particular reason, it just seemed like the best response"
	}
	return model.Response{Confidence: 10, Text: why, Why: "explanation requested"}, nil
}

func (w *Why) lookup(msg *model.Message) (dispatch.ExplanationRecord, bool) {
	if msg.Reference != nil {
		return w.store.Lookup(msg.Reference.ID)
	}
	return w.store.Latest(msg.ChannelKey())
}

func isWhyQuery(query string) bool {
	for _, p := range whyPrefixes {
		if strings.HasPrefix(query, p) {
			return true
		}
	}
	return false
}
