// Package chat normalizes native chat-platform events into the uniform
// message envelope and normalizes outbound sends back onto each platform.
//
// Each adapter owns three jobs: translating native users/channels/messages
// into model types with stable IDs, detecting whether a message addresses
// the assistant (and stripping the addressing), and chunked delivery under
// the platform's formatting profile. The wire transports themselves are
// injected interfaces — this package never opens a socket.
package chat

import (
	"context"
	"fmt"

	"github.com/kibitzhq/kibitz/internal/model"
)

// Service is the adapter contract the dispatcher delivers through.
// Implementations must be safe for concurrent use.
type Service interface {
	// Tag identifies the platform.
	Tag() model.Service

	// Profile returns the platform's formatting rules.
	Profile() model.FormatProfile

	// Self returns the assistant's own user on this platform.
	Self() model.User

	// SendMessage delivers one already-chunked text to a channel and
	// returns the platform's ID for the sent message.
	SendMessage(ctx context.Context, channelID, text string) (string, error)

	// SendEmbed delivers an embed with optional accompanying text.
	// Platforms without embeds render a plain-text fallback.
	SendEmbed(ctx context.Context, channelID string, embed *model.Embed, text string) (string, error)

	// React attaches an emoji reaction to an existing message.
	React(ctx context.Context, channelID, messageID, emoji string) error

	// History returns up to limit recent messages from a channel,
	// newest first.
	History(ctx context.Context, channelID string, limit int) ([]*model.Message, error)
}

// Registry holds the configured service adapters, keyed by tag. Assembled
// once at startup; read-only afterwards.
type Registry struct {
	byTag map[model.Service]Service
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(services ...Service) *Registry {
	r := &Registry{byTag: make(map[model.Service]Service, len(services))}
	for _, s := range services {
		r.byTag[s.Tag()] = s
	}
	return r
}

// Lookup returns the adapter for a service tag.
func (r *Registry) Lookup(tag model.Service) (Service, error) {
	s, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("chat: no adapter registered for service %q", tag)
	}
	return s, nil
}

// IsSelf reports whether the user is the assistant itself on the message's
// originating service.
func (r *Registry) IsSelf(tag model.Service, u model.User) bool {
	s, ok := r.byTag[tag]
	return ok && s.Self().ID == u.ID
}
