package normalize

import "testing"

func TestEmail(t *testing.T) {
	if got := Email("  USER@Example.COM "); got != "user@example.com" {
		t.Fatalf("unexpected normalized email: %q", got)
	}
}

func TestUsername(t *testing.T) {
	if got := Username("  Alice42 "); got != "alice42" {
		t.Fatalf("unexpected normalized username: %q", got)
	}
}
