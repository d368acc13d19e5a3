package http

import (
	stdhttp "net/http"
	"testing"

	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
)

func TestAssistantConversation(t *testing.T) {
	env := startTestServer(t)
	alice := env.register(t, "alice")

	var reply MessageResponse
	if status := env.do(t, "POST", "/api/assistant", alice.Token, AskRequest{Prompt: "hello"}, &reply); status != stdhttp.StatusOK {
		t.Fatalf("ask: %d", status)
	}
	if reply.Kind != string(core.KindAssistant) || reply.Text != "echo: hello" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	var history []MessageResponse
	env.do(t, "GET", "/api/assistant/messages", alice.Token, nil, &history)
	if len(history) != 2 || history[0].Text != "hello" || history[1].Text != "echo: hello" {
		t.Fatalf("unexpected history %+v", history)
	}

	// Conversations are private.
	bob := env.register(t, "bob")
	var other []MessageResponse
	env.do(t, "GET", "/api/assistant/messages", bob.Token, nil, &other)
	if len(other) != 0 {
		t.Fatalf("bob sees alice's conversation: %+v", other)
	}

	if status := env.do(t, "DELETE", "/api/assistant/messages", alice.Token, nil, nil); status != stdhttp.StatusNoContent {
		t.Fatalf("clear: %d", status)
	}
	history = nil
	env.do(t, "GET", "/api/assistant/messages", alice.Token, nil, &history)
	if len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %+v", history)
	}
}

func TestAssistantDisabled(t *testing.T) {
	env := startTestServer(t, func(c *config.Config) { c.Assistant.APIKey = "" })
	alice := env.register(t, "alice")

	var errResp ErrorResponse
	if status := env.do(t, "POST", "/api/assistant", alice.Token, AskRequest{Prompt: "hello"}, &errResp); status != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
	if errResp.Code != "assistant_disabled" {
		t.Fatalf("unexpected code %q", errResp.Code)
	}
}
