package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestValidateChatMessage(t *testing.T) {
	if _, _, detail := validateChatMessage(chatMessageRequest{Message: ""}); detail == "" {
		t.Fatalf("expected empty message to be rejected")
	}

	oversized := strings.Repeat("x", chatMessageCharMax+1)
	if _, _, detail := validateChatMessage(chatMessageRequest{Message: oversized}); detail == "" {
		t.Fatalf("expected oversized message to be rejected")
	}

	boundary := strings.Repeat("x", chatMessageCharMax)
	if _, _, detail := validateChatMessage(chatMessageRequest{Message: boundary}); detail != "" {
		t.Fatalf("expected boundary-length message to pass, got %q", detail)
	}

	// Multi-byte runes count as single characters, matching the original
	// widget contract.
	wide := strings.Repeat("답", chatMessageCharMax)
	if _, _, detail := validateChatMessage(chatMessageRequest{Message: wide}); detail != "" {
		t.Fatalf("expected rune-counted message to pass, got %q", detail)
	}

	if _, _, detail := validateChatMessage(chatMessageRequest{
		Message:   "hello",
		SessionID: "definitely-not-a-uuid",
	}); detail == "" {
		t.Fatalf("expected malformed session id to be rejected")
	}

	message, sessionID, detail := validateChatMessage(chatMessageRequest{
		Message:   "hello",
		SessionID: "  0f0b54a4-9a3d-4d0b-b9ce-8f9a4fd7f8f7  ",
	})
	if detail != "" {
		t.Fatalf("expected valid payload to pass, got %q", detail)
	}
	if message != "hello" {
		t.Fatalf("unexpected message %q", message)
	}
	if sessionID != "0f0b54a4-9a3d-4d0b-b9ce-8f9a4fd7f8f7" {
		t.Fatalf("expected trimmed session id, got %q", sessionID)
	}
}

func TestPruneHistoryFront(t *testing.T) {
	pruned := pruneHistoryFront([]ChatTurn{
		{Role: "assistant", Content: "leftover reply"},
		{Role: "assistant", Content: "another reply"},
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	})
	if len(pruned) != 2 {
		t.Fatalf("expected 2 remaining turns, got %d", len(pruned))
	}
	if pruned[0].Role != "user" {
		t.Fatalf("expected pruned window to start with user, got %q", pruned[0].Role)
	}

	if got := pruneHistoryFront([]ChatTurn{{Role: "assistant", Content: "only reply"}}); len(got) != 0 {
		t.Fatalf("expected all-assistant window to prune to empty, got %d turns", len(got))
	}

	untouched := []ChatTurn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	if got := pruneHistoryFront(untouched); len(got) != 2 {
		t.Fatalf("expected user-led window untouched, got %d turns", len(got))
	}

	if got := pruneHistoryFront(nil); len(got) != 0 {
		t.Fatalf("expected nil window to stay empty, got %d turns", len(got))
	}
}

func TestGenerateReplyDegradesOnClientError(t *testing.T) {
	stub := &stubAIClient{err: errors.New("boom")}
	app := &App{cfg: newTestConfig(), ai: stub}

	result := app.generateReply(context.Background(), nil, "hello")
	if !result.Degraded {
		t.Fatalf("expected degraded result")
	}
	if result.Text != degradedReplyText {
		t.Fatalf("expected fixed degraded text, got %q", result.Text)
	}
}

func TestGenerateReplySendsSystemPromptAndPrunedHistory(t *testing.T) {
	stub := &stubAIClient{response: AIModelResponse{Answer: "  padded answer  ", Model: "stub"}}
	app := &App{cfg: newTestConfig(), ai: stub}

	history := []ChatTurn{
		{Role: "assistant", Content: "dangling reply"},
		{Role: "user", Content: "earlier question"},
	}
	result := app.generateReply(context.Background(), history, "new question")
	if result.Degraded {
		t.Fatalf("expected successful result")
	}
	if result.Text != "padded answer" {
		t.Fatalf("expected trimmed answer, got %q", result.Text)
	}

	if len(stub.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(stub.requests))
	}
	sent := stub.requests[0]
	if sent.SystemPrompt != supportSystemPrompt {
		t.Fatalf("expected the static support persona prompt")
	}
	if len(sent.Conversation) != 1 || sent.Conversation[0].Role != "user" {
		t.Fatalf("expected pruned single-user history, got %v", sent.Conversation)
	}
	if sent.UserPrompt != "new question" {
		t.Fatalf("expected new message as user prompt, got %q", sent.UserPrompt)
	}
}

func TestMockAIClientAlwaysReturnsSameReply(t *testing.T) {
	client := MockAIClient{}
	inputs := []string{"hello", "where is my order", "", "こんにちは"}

	for _, input := range inputs {
		resp, err := client.Query(context.Background(), AIModelRequest{UserPrompt: input})
		if err != nil {
			t.Fatalf("mock client must never fail, got %v", err)
		}
		if resp.Answer != mockReplyText {
			t.Fatalf("expected fixed mock reply for input %q, got %q", input, resp.Answer)
		}
	}
}

func TestHealthReportsStatusAndTimestamp(t *testing.T) {
	router := New(newTestConfig(), nil).Router()

	rec := performRequest(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeJSONMap(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	timestamp, _ := body["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339, timestamp); err != nil {
		t.Fatalf("expected RFC3339 timestamp, got %q: %v", timestamp, err)
	}
}
