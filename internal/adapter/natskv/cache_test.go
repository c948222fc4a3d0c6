package natskv

import (
	"regexp"
	"testing"
)

// validKey is the NATS KV key alphabet.
var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

func TestKVKey(t *testing.T) {
	for _, key := range []string{"history:abc", "history:ünïcode id", "history:a/b:c", "history:"} {
		got := kvKey(key)
		if !validKey.MatchString(got) {
			t.Errorf("kvKey(%q) = %q, not a valid KV key", key, got)
		}
	}
	if kvKey("history:a") == kvKey("history:b") {
		t.Error("distinct keys collide")
	}
}
