package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kibitzhq/kibitz/internal/model"
)

// addresser decides whether a message is directed at the assistant and
// strips the addressing from the text. A message is addressed when any of:
//
//   - the assistant's user appears in the mention list,
//   - the clean text begins with the handle (case-insensitive, optional
//     leading @, optionally followed by a comma or colon),
//   - the clean text ends with the handle after a comma,
//   - the channel is a direct channel.
type addresser struct {
	selfID string
	prefix *regexp.Regexp
	suffix *regexp.Regexp
}

func newAddresser(selfID, handle string) *addresser {
	h := regexp.QuoteMeta(handle)
	return &addresser{
		selfID: selfID,
		// "kibitz, what time is it" / "Kibitz: ..." / "@kibitz ..."
		prefix: regexp.MustCompile(`(?i)^@?` + h + `[,:]?\s+`),
		// "what time is it, kibitz?" — keep the trailing punctuation.
		suffix: regexp.MustCompile(`(?i),\s*@?` + h + `([?!.]*)$`),
	}
}

// resolve returns the remaining query text and whether the message was
// addressed to the assistant at all.
func (a *addresser) resolve(msg *model.Message) (string, bool) {
	text := strings.TrimSpace(msg.CleanText)

	// Mention markup is already replaced by the handle in the clean text,
	// so the prefix/suffix strip below applies to mentions too.
	mentioned := false
	for _, m := range msg.Mentions {
		if m.ID == a.selfID {
			mentioned = true
			break
		}
	}

	if loc := a.prefix.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[1]:]), true
	}
	if a.suffix.MatchString(text) {
		return strings.TrimSpace(a.suffix.ReplaceAllString(text, "$1")), true
	}
	if mentioned || msg.Channel.IsDM {
		return text, true
	}
	return "", false
}

// mention markup like <@123> or <@!123>, shared by Discord and Slack.
var mentionToken = regexp.MustCompile(`<@!?([A-Za-z0-9]+)>`)

// stripMentions produces the clean text: mention markup replaced by the
// mentioned user's name where known, dropped otherwise.
func stripMentions(text string, mentions []model.User) string {
	names := make(map[string]string, len(mentions))
	for _, u := range mentions {
		names[u.ID] = u.Name
	}
	out := mentionToken.ReplaceAllStringFunc(text, func(tok string) string {
		id := mentionToken.FindStringSubmatch(tok)[1]
		if name, ok := names[id]; ok {
			return name
		}
		return ""
	})
	return strings.Join(strings.Fields(out), " ")
}

// mentionText renders a user mention for outbound text.
func mentionText(u model.User) string {
	return fmt.Sprintf("<@%s>", u.ID)
}
