package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer answers a conversation with the next assistant message.
type Completer interface {
	Chat(ctx context.Context, history []Message) (Message, error)
}

// Ollama is a non-streaming client for an Ollama server's /api/chat.
type Ollama struct {
	BaseURL string
	Model   string
	HTTP    *http.Client
}

func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func (o *Ollama) Chat(ctx context.Context, history []Message) (Message, error) {
	payload, err := json.Marshal(chatRequest{Model: o.Model, Messages: history})
	if err != nil {
		return Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Message{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("read ollama response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Message{}, fmt.Errorf("ollama: %s", resp.Status)
		}
		return Message{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return Message{}, fmt.Errorf("ollama: %s: %s", resp.Status, out.Error)
	}
	if out.Message.Role == "" {
		out.Message.Role = RoleAssistant
	}
	return out.Message, nil
}
