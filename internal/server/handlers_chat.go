package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const chatHistoryWindowLimit = 10

const (
	sessionSourceFresh     = "web-widget"
	sessionSourceRecovered = "web-widget-recovered"
)

type messageRecord struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// postChatMessage runs one strictly linear turn: validate, resolve the
// session, load the history window, persist the user turn, generate,
// persist the assistant turn, respond. The window is loaded before the
// user turn is written, so the new message only reaches the generator as
// the separate user prompt.
func (a *App) postChatMessage(c *gin.Context) {
	var payload chatMessageRequest
	if !mustJSON(c, &payload) {
		return
	}

	userText, candidateID, detail := validateChatMessage(payload)
	if detail != "" {
		writeError(c, http.StatusBadRequest, detail)
		return
	}

	ctx := c.Request.Context()

	sessionID, err := a.resolveSession(ctx, candidateID)
	if err != nil {
		log.Printf("chat session resolve failed: %v", err)
		writeError(c, http.StatusInternalServerError, "Internal server error processing your message.")
		return
	}

	history, err := a.loadHistoryWindow(ctx, sessionID, chatHistoryWindowLimit)
	if err != nil {
		log.Printf("chat history load failed session_id=%s: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal server error processing your message.")
		return
	}

	if _, _, err := a.insertChatMessage(ctx, a.db, sessionID, "user", userText); err != nil {
		log.Printf("chat user turn insert failed session_id=%s: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal server error processing your message.")
		return
	}

	// Never fails: degraded fallback text comes back as a normal result.
	reply := a.generateReply(ctx, history, userText)

	if _, _, err := a.insertChatMessage(ctx, a.db, sessionID, "assistant", reply.Text); err != nil {
		// The user turn stays behind on purpose: at-least-once writes,
		// no compensating delete.
		log.Printf("chat assistant turn insert failed session_id=%s: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal server error processing your message.")
		return
	}

	c.JSON(http.StatusOK, chatMessageResponse{
		Reply:     reply.Text,
		SessionID: sessionID,
	})
}

func (a *App) getChatHistory(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))

	records, err := a.loadConversationMessages(c.Request.Context(), sessionID)
	if err != nil {
		log.Printf("chat history fetch failed session_id=%s: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Failed to fetch history")
		return
	}

	history := make([]gin.H, 0, len(records))
	for _, record := range records {
		history = append(history, gin.H{
			"id":             record.ID,
			"conversationId": record.ConversationID,
			"role":           record.Role,
			"content":        record.Content,
			"createdAt":      record.CreatedAt.UTC(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// resolveSession maps an optional client-supplied session id onto a valid
// conversation row. A missing id starts a fresh conversation; an unknown
// id silently starts a recovered one. Only store failures surface as
// errors, never the state of the candidate id itself.
func (a *App) resolveSession(ctx context.Context, candidateID string) (string, error) {
	if candidateID == "" {
		return a.createConversation(ctx, a.db, sessionSourceFresh)
	}

	var existingID string
	err := a.db.QueryRow(
		ctx,
		`SELECT id FROM conversations WHERE id = $1`,
		candidateID,
	).Scan(&existingID)
	if err == nil {
		return existingID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}

	return a.createConversation(ctx, a.db, sessionSourceRecovered)
}

func (a *App) createConversation(ctx context.Context, q dbQuerier, source string) (string, error) {
	conversationID := uuid.NewString()
	_, err := q.Exec(
		ctx,
		`INSERT INTO conversations (id, created_at, metadata)
		 VALUES ($1, now(), $2)`,
		conversationID,
		mustMarshalJSON(map[string]string{"source": source}),
	)
	if err != nil {
		return "", err
	}
	return conversationID, nil
}

// loadHistoryWindow returns up to limit most-recent turns in chronological
// order: newest-first fetch, then an in-place reverse. A brand-new
// conversation yields an empty window. The window is returned raw; the
// start-with-user pruning happens in the generator.
func (a *App) loadHistoryWindow(ctx context.Context, sessionID string, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = chatHistoryWindowLimit
	}
	rows, err := a.db.Query(
		ctx,
		`SELECT role, content
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]ChatTurn, 0, limit)
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		turns = append(turns, ChatTurn{
			Role:    strings.ToLower(strings.TrimSpace(role)),
			Content: content,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (a *App) insertChatMessage(
	ctx context.Context,
	q dbQuerier,
	conversationID, role, content string,
) (string, time.Time, error) {
	messageID := uuid.NewString()

	var createdAt time.Time
	err := q.QueryRow(
		ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING created_at`,
		messageID,
		conversationID,
		strings.ToLower(strings.TrimSpace(role)),
		content,
	).Scan(&createdAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return messageID, createdAt, nil
}

func (a *App) loadConversationMessages(ctx context.Context, sessionID string) ([]messageRecord, error) {
	rows, err := a.db.Query(
		ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]messageRecord, 0, 16)
	for rows.Next() {
		record := messageRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.ConversationID,
			&record.Role,
			&record.Content,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
