package server

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

type chatMessageRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatMessageResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

const chatMessageCharMax = 2000

// validateChatMessage applies the boundary rules before any side effect:
// non-empty message up to chatMessageCharMax characters, and a session id
// that is either absent or a well-formed UUID. It returns a human-readable
// detail for the 400 response when validation fails.
func validateChatMessage(payload chatMessageRequest) (message, sessionID, detail string) {
	message = payload.Message
	if message == "" {
		return "", "", "Message cannot be empty"
	}
	if utf8.RuneCountInString(message) > chatMessageCharMax {
		return "", "", "Message too long"
	}

	sessionID = strings.TrimSpace(payload.SessionID)
	if sessionID != "" {
		if _, err := uuid.Parse(sessionID); err != nil {
			return "", "", "Invalid session id"
		}
	}
	return message, sessionID, ""
}

func mustMarshalJSON(input any) string {
	encoded, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
