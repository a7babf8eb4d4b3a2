// Package notify posts session lifecycle events to Slack. Notification
// failures are logged and swallowed; the lifecycle never waits on Slack.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"gamgui/internal/session"
)

// slackPoster is the slice of the Slack client we use, for test doubles.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier implements session.Notifier over a Slack channel.
type SlackNotifier struct {
	api     slackPoster
	channel string
	log     *slog.Logger
}

// NewSlackNotifier returns nil when no token is configured, which callers
// treat as notifications-off.
func NewSlackNotifier(token, channel string, logger *slog.Logger) *SlackNotifier {
	if token == "" {
		return nil
	}
	return &SlackNotifier{
		api:     slack.New(token),
		channel: channel,
		log:     logger.With("component", "notify.slack"),
	}
}

func (n *SlackNotifier) SessionCreated(ctx context.Context, s *session.Session) {
	n.post(ctx, fmt.Sprintf(":rocket: session `%s` created for `%s` on %s", s.ID, s.OwnerID, s.Handle.Kind))
}

func (n *SlackNotifier) SessionDeleted(ctx context.Context, s *session.Session, initiator string) {
	n.post(ctx, fmt.Sprintf(":wastebasket: session `%s` (owner `%s`) deleted by %s", s.ID, s.OwnerID, initiator))
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	go func() {
		_, _, err := n.api.PostMessageContext(context.WithoutCancel(ctx), n.channel,
			slack.MsgOptionText(text, false))
		if err != nil {
			n.log.Warn("Slack notification failed", "error", err)
		}
	}()
}
