package gamerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwrapsChains(t *testing.T) {
	base := New(KindSessionNotFound, "gone")
	wrapped := fmt.Errorf("outer: %w", base)

	if KindOf(wrapped) != KindSessionNotFound {
		t.Errorf("expected SessionNotFound through the chain, got %v", KindOf(wrapped))
	}
	if !Is(wrapped, KindSessionNotFound) {
		t.Error("Is should match through wrapping")
	}
	if Is(wrapped, KindAccessDenied) {
		t.Error("Is matched the wrong kind")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindSubstrateUnavailable, nil, "nothing") != nil {
		t.Error("wrapping nil must stay nil")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindSubstrateUnavailable, cause, "dial failed")
	if !errors.Is(err, cause) {
		t.Error("cause lost through Wrap")
	}
	if KindOf(err) != KindSubstrateUnavailable {
		t.Errorf("kind lost, got %v", KindOf(err))
	}
}

func TestRetryable(t *testing.T) {
	cases := map[Kind]bool{
		KindAdapterNotInitialized:  true,
		KindSubstrateUnavailable:   true,
		KindSecretStoreUnavailable: true,
		KindAccessDenied:           false,
		KindCommandRejected:        false,
		KindCredentialsMissing:     false,
		KindSessionNotFound:        false,
	}
	for kind, want := range cases {
		if got := Retryable(New(kind, "x")); got != want {
			t.Errorf("Retryable(%s) = %v, want %v", kind, got, want)
		}
	}
}
