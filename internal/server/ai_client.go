package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"spurchat/backend/internal/config"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type AIModelRequest struct {
	SystemPrompt string
	Conversation []ChatTurn
	UserPrompt   string
}

type AIModelResponse struct {
	Answer string
	Model  string
	Usage  AIUsage
}

type AIClient interface {
	Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

const mockReplyText = "I'm a mock AI agent. Please configure the GEMINI_API_KEY to get real answers."

// MockAIClient stands in when no generation credential is configured.
// It answers every request with the same fixed instructional string.
type MockAIClient struct{}

func (MockAIClient) Query(_ context.Context, _ AIModelRequest) (AIModelResponse, error) {
	return AIModelResponse{
		Answer: mockReplyText,
		Model:  "mock",
	}, nil
}

type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
}

func NewGeminiClient(cfg config.Config) *GeminiClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 20
	}
	return &GeminiClient{
		apiKey:          strings.TrimSpace(cfg.GeminiAPIKey),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.GeminiBaseURL), "/"),
		model:           strings.TrimSpace(cfg.GeminiModel),
		maxOutputTokens: cfg.AIMaxOutputTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Query sends the conversation to the Gemini generateContent endpoint.
// Internal role "assistant" becomes wire role "model"; the caller is
// responsible for making sure the conversation starts with a user turn.
func (c *GeminiClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	if c.apiKey == "" {
		return AIModelResponse{}, errors.New("GEMINI_API_KEY is not configured")
	}
	if c.baseURL == "" {
		return AIModelResponse{}, errors.New("GEMINI_BASE_URL is not configured")
	}
	model := strings.TrimSpace(c.model)
	if model == "" {
		return AIModelResponse{}, errors.New("GEMINI_MODEL is not configured")
	}

	contents := make([]geminiContent, 0, len(req.Conversation)+1)
	for _, turn := range req.Conversation {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		switch role {
		case "user":
		case "assistant":
			role = "model"
		default:
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: content}},
		})
	}
	userPrompt := strings.TrimSpace(req.UserPrompt)
	if userPrompt == "" {
		return AIModelResponse{}, errors.New("AI request user prompt is empty")
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: userPrompt}},
	})

	payload := map[string]any{
		"contents": contents,
	}
	if systemPrompt := strings.TrimSpace(req.SystemPrompt); systemPrompt != "" {
		payload["systemInstruction"] = geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}
	if c.maxOutputTokens > 0 {
		payload["generationConfig"] = map[string]any{
			"maxOutputTokens": c.maxOutputTokens,
		}
	}

	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return AIModelResponse{}, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyRaw))
	if err != nil {
		return AIModelResponse{}, err
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-goog-api-key", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return AIModelResponse{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return AIModelResponse{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return AIModelResponse{}, fmt.Errorf(
			"gemini generateContent error (%d): %s",
			response.StatusCode,
			truncateForLog(string(responseBody), 600),
		)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return AIModelResponse{}, fmt.Errorf("decode gemini response: %w", err)
	}

	answer := extractGeminiAnswer(parsed)
	if answer == "" {
		return AIModelResponse{}, errors.New("gemini response answer is empty")
	}

	return AIModelResponse{
		Answer: answer,
		Model:  model,
		Usage: AIUsage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func extractGeminiAnswer(parsed geminiResponse) string {
	if len(parsed.Candidates) == 0 {
		return ""
	}
	parts := make([]string, 0, len(parsed.Candidates[0].Content.Parts))
	for _, part := range parsed.Candidates[0].Content.Parts {
		text := strings.TrimSpace(part.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func truncateForLog(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "...(truncated)"
}
