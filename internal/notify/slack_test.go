package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"gamgui/internal/backend"
	"gamgui/internal/session"
)

type fakePoster struct {
	mu       sync.Mutex
	channels []string
	err      error
}

// MsgOption internals are opaque, so only the channel and call count are
// recorded.
func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channelID)
	return "", "", f.err
}

func (f *fakePoster) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func notifierWith(api slackPoster) *SlackNotifier {
	return &SlackNotifier{api: api, channel: "#gamgui", log: slog.Default()}
}

func waitForCalls(t *testing.T, f *fakePoster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for f.calls() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d posts, got %d", want, f.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewSlackNotifierWithoutToken(t *testing.T) {
	if n := NewSlackNotifier("", "#gamgui", slog.Default()); n != nil {
		t.Error("empty token must disable notifications")
	}
	if n := NewSlackNotifier("xoxb-test", "#gamgui", slog.Default()); n == nil {
		t.Error("token present must enable notifications")
	}
}

func TestSessionEventsPostToChannel(t *testing.T) {
	f := &fakePoster{}
	n := notifierWith(f)
	s := &session.Session{ID: "sess_abcd1234", OwnerID: "alice",
		Handle: backend.Handle{Kind: backend.KindSimulated, ID: "sim-x"}}

	n.SessionCreated(context.Background(), s)
	n.SessionDeleted(context.Background(), s, "reaper")
	waitForCalls(t, f, 2)

	for _, ch := range f.channels {
		if !strings.HasPrefix(ch, "#") {
			t.Errorf("posted to %q, want the configured channel", ch)
		}
	}
}

func TestPostFailureIsSwallowed(t *testing.T) {
	f := &fakePoster{err: errors.New("slack is down")}
	n := notifierWith(f)

	// must not panic or block the caller
	n.SessionCreated(context.Background(), &session.Session{ID: "sess_1", OwnerID: "alice"})
	waitForCalls(t, f, 1)
}

func TestPostSurvivesCancelledContext(t *testing.T) {
	f := &fakePoster{}
	n := notifierWith(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.SessionDeleted(ctx, &session.Session{ID: "sess_2", OwnerID: "bob"}, "api")
	waitForCalls(t, f, 1)
}
