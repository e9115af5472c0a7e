package domain

import (
	"testing"
)

func TestChatTypeFromGroup(t *testing.T) {
	if ChatTypeFromGroup(true) != ChatTypeGroup {
		t.Error("Expected group chat type")
	}
	if ChatTypeFromGroup(false) != ChatTypeP2P {
		t.Error("Expected p2p chat type")
	}
}

func TestNewTurn(t *testing.T) {
	a := NewTurn("chat-1", "Alice", "hi", "hello", false)
	b := NewTurn("chat-1", "Alice", "hi", "hello", false)

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("Expected unique non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("Expected CreatedAt to be set")
	}
}
