package model

import "time"

// User identifies a chat participant. IDs are opaque strings, unique per
// service and server. Two users with the same ID compare equal regardless
// of display name.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles,omitempty"`
	IsBot       bool     `json:"is_bot"`
}

// Equal reports whether two users refer to the same account.
func (u User) Equal(other User) bool { return u.ID == other.ID }

// HasRole reports whether the user carries any of the named roles.
func (u User) HasRole(roles ...string) bool {
	for _, r := range u.Roles {
		for _, want := range roles {
			if r == want {
				return true
			}
		}
	}
	return false
}

// Server is the guild/workspace a channel belongs to. Absent for direct
// messages and for the HTTP front door.
type Server struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel locates a conversation on a service.
type Channel struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Server *Server `json:"server,omitempty"`
	IsDM   bool    `json:"is_dm"`
}

// Message is the uniform envelope every service adapter produces from its
// native event. Immutable after construction: adapters fill every field
// before handing the message to the dispatcher, and nothing downstream
// writes to it.
type Message struct {
	ID        string
	Text      string
	CleanText string
	Author    User
	Channel   Channel
	Service   Service
	Mentions  []User
	Reference *Message
	CreatedAt time.Time

	// Addressed is true when the message is directed at the assistant
	// (mention, handle prefix/suffix, or a DM). Query holds the text with
	// the addressing stripped; empty when Addressed is false.
	Addressed bool
	Query     string

	// Modules restricts which modules the dispatcher consults for this
	// message. Empty means all. Set by the HTTP front door when a client
	// has selected a module subset.
	Modules []string
}

// IsDM reports whether the message arrived over a direct channel.
func (m *Message) IsDM() bool { return m.Channel.IsDM }

// ChannelKey returns the service-qualified channel identity used for
// dispatch ordering and explanation lookups.
func (m *Message) ChannelKey() string {
	return string(m.Service) + "/" + m.Channel.ID
}

// Reaction is an emoji added to or removed from a message. Adapters resolve
// the reacted-to message's author before handing the event over, because the
// stamp engine and the reply gate both need it.
type Reaction struct {
	Service       Service
	ChannelID     string
	MessageID     string
	Emoji         string
	Reactor       User
	MessageAuthor User
	Added         bool
}

// ChannelKey mirrors Message.ChannelKey for reaction events.
func (r Reaction) ChannelKey() string {
	return string(r.Service) + "/" + r.ChannelID
}
