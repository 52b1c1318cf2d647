package server

import (
	"context"
	"log"
	"strings"
)

const supportSystemPrompt = `You are a helpful customer support agent for "Spur Store", an online retailer of cool gadgets.
Your tone should be professional, friendly, and concise.

Key Information:
- Shipping: We ship to USA, Canada, and UK. Free shipping on orders over $50. Standard shipping takes 3-5 business days.
- Returns: 30-day return policy for unused items in original packaging. Customer pays return shipping unless item is defective.
- Support Hours: Mon-Fri, 9AM - 6PM EST.
- Contact: support@spurstore.com

Guidelines:
- If you don't know the answer, politely ask the user to contact support via email.
- Do not make up facts not present in this prompt.
- Keep answers short (under 3-4 sentences) effectively for chat.`

const degradedReplyText = "I'm having trouble connecting to my brain right now. Please try again later."

// ReplyResult carries the generated assistant text. Degraded marks the
// fixed fallback produced when the external call could not be completed;
// callers treat it as a normal reply, never as an error.
type ReplyResult struct {
	Text     string
	Degraded bool
	Model    string
	Usage    AIUsage
}

// pruneHistoryFront drops leading turns until the window is empty or
// starts with a user turn. Gemini rejects transcripts whose first entry
// is not from the user, which can happen when the fixed window truncates
// mid-exchange.
func pruneHistoryFront(history []ChatTurn) []ChatTurn {
	for len(history) > 0 && strings.ToLower(strings.TrimSpace(history[0].Role)) != "user" {
		history = history[1:]
	}
	return history
}

// generateReply makes a single attempt against the injected AI client.
// No retry, no backoff: any failure degrades to the fixed fallback text
// so the endpoint always has an assistant reply to persist and return.
func (a *App) generateReply(ctx context.Context, history []ChatTurn, userMessage string) ReplyResult {
	response, err := a.ai.Query(ctx, AIModelRequest{
		SystemPrompt: supportSystemPrompt,
		Conversation: pruneHistoryFront(history),
		UserPrompt:   userMessage,
	})
	if err != nil {
		log.Printf("reply generation failed: %v", err)
		return ReplyResult{Text: degradedReplyText, Degraded: true}
	}

	if response.Usage.TotalTokens > 0 {
		log.Printf(
			"reply generated model=%s tokens prompt=%d completion=%d total=%d",
			response.Model,
			response.Usage.PromptTokens,
			response.Usage.CompletionTokens,
			response.Usage.TotalTokens,
		)
	}
	return ReplyResult{
		Text:  strings.TrimSpace(response.Answer),
		Model: response.Model,
		Usage: response.Usage,
	}
}
