package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/kibitzhq/kibitz/internal/model"
	"github.com/kibitzhq/kibitz/internal/stamps"
)

// SelfChecker reports whether a user is the assistant itself on the
// originating service. The chat registry implements it.
type SelfChecker interface {
	IsSelf(tag model.Service, u model.User) bool
}

// Stamps feeds award reactions into the vote graph and answers stamp
// balance queries.
type Stamps struct {
	engine     *stamps.Engine
	self       SelfChecker
	stampEmoji string
	goldEmoji  string
}

func NewStamps(engine *stamps.Engine, self SelfChecker, stampEmoji, goldEmoji string) *Stamps {
	return &Stamps{engine: engine, self: self, stampEmoji: stampEmoji, goldEmoji: goldEmoji}
}

func (s *Stamps) Name() string { return "stamps" }

// OnReaction turns stamp reactions into vote deltas. Removing a reaction
// retracts exactly the weight it awarded. Stamps on the assistant's own
// messages carry no weight; its platform IDs differ per service, so the
// check goes through the registry rather than the engine's identity.
func (s *Stamps) OnReaction(ctx context.Context, r model.Reaction) error {
	var weight int64
	switch r.Emoji {
	case s.stampEmoji:
		weight = stamps.StampWeight
	case s.goldEmoji:
		weight = stamps.GoldStampWeight
	default:
		return nil
	}
	if r.MessageAuthor.ID == "" || s.self.IsSelf(r.Service, r.MessageAuthor) {
		return nil
	}
	if !r.Added {
		weight = -weight
	}
	return s.engine.AddVote(ctx, r.Reactor.ID, r.MessageAuthor.ID, weight)
}

func (s *Stamps) ProcessMessage(_ context.Context, msg *model.Message) (model.Response, error) {
	if !msg.Addressed {
		return model.Response{}, nil
	}
	query := strings.ToLower(strings.TrimSpace(msg.Query))
	if !strings.HasPrefix(query, "how many stamps") {
		return model.Response{}, nil
	}

	target := msg.Author
	switch {
	case strings.Contains(query, "do i have"):
		// target is the asker
	case len(msg.Mentions) > 0:
		target = msg.Mentions[0]
	case strings.Contains(query, "are there"):
		total := s.engine.TotalVotes()
		return model.Response{
			Confidence: 9,
			Text:       fmt.Sprintf("There are %d stamps in total.", total),
			Why:        "stamp total requested",
		}, nil
	default:
		return model.Response{}, nil
	}

	value := s.engine.StampValue(target.ID)
	name := target.DisplayName
	if name == "" {
		name = target.Name
	}
	text := fmt.Sprintf("%s has %.2f stamps.", name, value)
	if target.ID == msg.Author.ID {
		text = fmt.Sprintf("You have %.2f stamps.", value)
	}
	return model.Response{Confidence: 9, Text: text, Why: "stamp balance requested"}, nil
}
