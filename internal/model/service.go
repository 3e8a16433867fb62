// Package model defines the uniform message envelope shared by every chat
// service adapter, the candidate-response type consumed by the dispatcher,
// and the standard API envelope for the HTTP front door.
package model

// Service tags which chat platform a message came from.
type Service string

const (
	ServiceDiscord Service = "discord"
	ServiceSlack   Service = "slack"
	ServiceHTTP    Service = "http"
)

// FormatProfile carries the per-service formatting rules. Modules never
// branch on the Service tag directly; they receive the profile instead.
type FormatProfile struct {
	// Italics is the marker wrapped around emphasized text
	// ("*" on Discord, "_" on Slack, empty when unsupported).
	Italics string

	// ChunkLimit is the maximum outbound message length in characters.
	// Zero means unlimited.
	ChunkLimit int

	// SupportsReactions reports whether the service can attach emoji
	// reactions to messages.
	SupportsReactions bool
}

// Italicize wraps text in the service's italics marker, if it has one.
func (p FormatProfile) Italicize(text string) string {
	if p.Italics == "" || text == "" {
		return text
	}
	return p.Italics + text + p.Italics
}
