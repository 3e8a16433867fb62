package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kibitzhq/kibitz/internal/model"
)

// HTTPFront is the front-door pseudo-service. Every HTTP request gets its
// own ephemeral channel (keyed by request ID); sends accumulate in a buffer
// the handler collects once the dispatch completes. There are no reactions
// and no history.
type HTTPFront struct {
	self model.User

	mu      sync.Mutex
	replies map[string][]string
}

// NewHTTPFront creates the front-door adapter.
func NewHTTPFront(handle string) *HTTPFront {
	return &HTTPFront{
		self: model.User{
			ID:          "http-self",
			Name:        handle,
			DisplayName: handle,
			IsBot:       true,
		},
		replies: make(map[string][]string),
	}
}

func (h *HTTPFront) Tag() model.Service { return model.ServiceHTTP }
func (h *HTTPFront) Self() model.User   { return h.self }

func (h *HTTPFront) Profile() model.FormatProfile {
	return model.FormatProfile{} // no italics, no chunk limit, no reactions
}

// NewRequestMessage wraps one front-door request as an envelope message.
// Front-door requests are always addressed to the assistant.
func (h *HTTPFront) NewRequestMessage(requestID, client, content string) *model.Message {
	return &model.Message{
		ID:        requestID,
		Text:      content,
		CleanText: content,
		Author: model.User{
			ID:          "http:" + client,
			Name:        client,
			DisplayName: client,
		},
		Channel:   model.Channel{ID: requestID, IsDM: true},
		Service:   model.ServiceHTTP,
		CreatedAt: time.Now().UTC(),
		Addressed: true,
		Query:     content,
	}
}

func (h *HTTPFront) SendMessage(_ context.Context, channelID, text string) (string, error) {
	h.mu.Lock()
	h.replies[channelID] = append(h.replies[channelID], text)
	h.mu.Unlock()
	return uuid.New().String(), nil
}

func (h *HTTPFront) SendEmbed(ctx context.Context, channelID string, embed *model.Embed, text string) (string, error) {
	return h.SendMessage(ctx, channelID, renderEmbed(embed, text, ""))
}

// React is a no-op: the front door has no reaction surface.
func (h *HTTPFront) React(context.Context, string, string, string) error { return nil }

// History is empty: front-door channels live for one request.
func (h *HTTPFront) History(context.Context, string, int) ([]*model.Message, error) {
	return nil, nil
}

// Collect removes and returns everything sent to the request's channel.
func (h *HTTPFront) Collect(channelID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.replies[channelID]
	delete(h.replies, channelID)
	return out
}
