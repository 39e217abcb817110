package chat

import (
	"reflect"
	"testing"
)

func TestEnsureSystemMessagePrepends(t *testing.T) {
	in := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "how are you"},
	}
	orig := append([]Message(nil), in...)

	got := EnsureSystemMessage(in, "")

	if len(got) != len(in)+1 {
		t.Fatalf("len = %d, want %d", len(got), len(in)+1)
	}
	if got[0].Role != RoleSystem {
		t.Errorf("got[0].Role = %q, want %q", got[0].Role, RoleSystem)
	}
	if got[0].Content != DefaultSystemPrompt {
		t.Errorf("got[0].Content = %q, want default prompt", got[0].Content)
	}
	if !reflect.DeepEqual(got[1:], orig) {
		t.Errorf("remaining messages = %+v, want %+v", got[1:], orig)
	}
	if !reflect.DeepEqual(in, orig) {
		t.Errorf("input was mutated: %+v", in)
	}
}

func TestEnsureSystemMessageEmpty(t *testing.T) {
	got := EnsureSystemMessage(nil, "")
	if len(got) != 1 || got[0].Role != RoleSystem {
		t.Fatalf("got %+v, want a single system message", got)
	}
}

func TestEnsureSystemMessageCustomPrompt(t *testing.T) {
	got := EnsureSystemMessage([]Message{{Role: RoleUser, Content: "x"}}, "be brief")
	if got[0].Content != "be brief" {
		t.Errorf("got[0].Content = %q, want %q", got[0].Content, "be brief")
	}
}

func TestEnsureSystemMessageExisting(t *testing.T) {
	in := []Message{
		{Role: RoleSystem, Content: "custom"},
		{Role: RoleUser, Content: "hello"},
	}

	got := EnsureSystemMessage(in, "")
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("got %+v, want %+v", got, in)
	}

	// The result must not alias the input.
	got[0].Content = "changed"
	if in[0].Content != "custom" {
		t.Error("result aliases the input slice")
	}
}

func TestEnsureSystemMessageIdempotent(t *testing.T) {
	once := EnsureSystemMessage([]Message{{Role: RoleUser, Content: "hello"}}, "")
	twice := EnsureSystemMessage(once, "")
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second call changed the conversation: %+v -> %+v", once, twice)
	}
}

func TestEnsureSystemMessageSystemNotFirst(t *testing.T) {
	in := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleSystem, Content: "late"},
	}
	got := EnsureSystemMessage(in, "")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Content != DefaultSystemPrompt || got[2].Content != "late" {
		t.Errorf("unexpected conversation: %+v", got)
	}
}
