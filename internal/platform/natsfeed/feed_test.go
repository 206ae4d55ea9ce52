package natsfeed

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.URL != "nats://localhost:4222" {
		t.Errorf("expected default URL nats://localhost:4222, got %s", cfg.URL)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("expected unlimited reconnects (-1), got %d", cfg.MaxReconnects)
	}
	if cfg.ReconnectWait != 2*time.Second {
		t.Errorf("expected 2s reconnect wait, got %v", cfg.ReconnectWait)
	}
}

func TestFeedSubjects(t *testing.T) {
	subjects := []string{
		SubjectRedistributions,
		SubjectResonanceCreated,
		SubjectResonanceResolve,
	}

	for _, s := range subjects {
		if !matchesFeedWildcard(s) {
			t.Errorf("Subject %s not covered by %s", s, SubjectFeedAll)
		}
	}
}

// matchesFeedWildcard mirrors NATS '>' semantics for the feed prefix.
func matchesFeedWildcard(subject string) bool {
	const prefix = "fieldledger."
	return len(subject) > len(prefix) && subject[:len(prefix)] == prefix
}
