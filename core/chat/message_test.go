package chat_test

import (
	"testing"

	"github.com/modelflow/modelflow/core/chat"
)

func TestRoleValid(t *testing.T) {
	for _, r := range []chat.Role{chat.RoleSystem, chat.RoleUser, chat.RoleAssistant} {
		if !r.Valid() {
			t.Errorf("Valid(%q) = false, want true", r)
		}
	}
	for _, r := range []chat.Role{"", "tool", "USER"} {
		if r.Valid() {
			t.Errorf("Valid(%q) = true, want false", r)
		}
	}
}

func TestNewMessage(t *testing.T) {
	a := chat.NewMessage(chat.RoleUser, "hello")
	b := chat.NewMessage(chat.RoleUser, "hello")

	if a.ID == "" || b.ID == "" {
		t.Fatal("NewMessage() produced an empty id")
	}
	if a.ID == b.ID {
		t.Error("NewMessage() produced duplicate ids")
	}
	if a.Seq != 0 {
		t.Errorf("Seq = %d before persistence, want 0", a.Seq)
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestGenerationParamsClone(t *testing.T) {
	original := chat.GenerationParams{"temperature": 0.7, "max_tokens": 128}
	clone := original.Clone()

	clone["temperature"] = 0.0
	if original["temperature"] != 0.7 {
		t.Error("Clone() shares storage with the original")
	}

	if chat.GenerationParams(nil).Clone() != nil {
		t.Error("Clone() of nil params should stay nil")
	}
}
