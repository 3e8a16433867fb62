package dispatch

import (
	"context"

	"github.com/kibitzhq/kibitz/internal/model"
)

// Module is a response provider consulted for every inbound message.
//
// ProcessMessage must be fast: it runs inline in the channel's dispatch
// order, so anything slow belongs in a Response callback, which the
// dispatcher only invokes if that candidate wins ranking. Returning an
// empty Response means the module has nothing to say. Errors and panics
// are isolated; the module is treated as silent for that message.
type Module interface {
	Name() string
	ProcessMessage(ctx context.Context, msg *model.Message) (model.Response, error)
}

// OwnMessageObserver receives the assistant's own outbound messages.
// Conversational modules use this to keep their rolling context window.
type OwnMessageObserver interface {
	OnOwnMessage(ctx context.Context, msg *model.Message)
}

// ReactionObserver receives reactions that the reply gate did not claim.
type ReactionObserver interface {
	OnReaction(ctx context.Context, r model.Reaction) error
}

// Ticker runs periodic work. Tick is called on a fixed interval from a
// single goroutine; implementations self-throttle with named timers.
type Ticker interface {
	Tick(ctx context.Context)
}
