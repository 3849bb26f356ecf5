package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"marai-studio/internal/kv"
	"marai-studio/internal/models"
	"marai-studio/internal/timeline"
)

func setupStore(t *testing.T) *kv.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	d, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	// The shared-cache database lives until its last connection closes.
	if sqlDB, err := d.DB(); err == nil {
		t.Cleanup(func() { sqlDB.Close() })
	}
	d.AutoMigrate(&models.KVEntry{})
	return kv.New(d)
}

type fakeLLM struct {
	reply string
	err   error
	got   [][]Message
}

func (f *fakeLLM) Chat(ctx context.Context, history []Message) (Message, error) {
	f.got = append(f.got, history)
	if f.err != nil {
		return Message{}, f.err
	}
	return Message{Role: RoleAssistant, Content: f.reply}, nil
}

func transcriptInfo(values ...string) *timeline.Info {
	tr := &timeline.Transcript{ID: "t1"}
	for i, v := range values {
		tr.TranscriptLines = append(tr.TranscriptLines, timeline.TranscriptLine{
			ID: timeline.LineID(fmt.Sprint(i + 1)), Value: v,
		})
	}
	return &timeline.Info{DurationMs: 10000, Transcript: tr}
}

func TestTranscriptText(t *testing.T) {
	if got := TranscriptText(transcriptInfo("hello", "world")); got != "hello\nworld\n" {
		t.Errorf("TranscriptText = %q", got)
	}
	if got := TranscriptText(&timeline.Info{}); got != "" {
		t.Errorf("Expected empty text, got %q", got)
	}
}

func TestService_OpenStartsAndReuses(t *testing.T) {
	svc := NewService(setupStore(t), &fakeLLM{}, "http://ollama")
	ctx := context.Background()
	info := transcriptInfo("line one")

	h, err := svc.Open(ctx, "task-1", info)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(h.Messages) != 1 || h.Messages[0].Sender != SenderBot || !h.Messages[0].Show {
		t.Errorf("Expected greeting, got %+v", h.Messages)
	}
	if len(h.ConversationHistory) != 1 || h.ConversationHistory[0].Role != RoleSystem ||
		!strings.Contains(h.ConversationHistory[0].Content, "line one\n") {
		t.Errorf("Expected system prompt with transcript, got %+v", h.ConversationHistory)
	}

	// A stored conversation wins over the new transcript.
	again, err := svc.Open(ctx, "task-1", transcriptInfo("changed"))
	if err != nil {
		t.Fatal(err)
	}
	if again.ConversationHistory[0].Content != h.ConversationHistory[0].Content {
		t.Error("Reopen should load the stored conversation")
	}

	if _, err := svc.Open(ctx, "task-2", &timeline.Info{DurationMs: 1}); !errors.Is(err, ErrNoTranscript) {
		t.Errorf("Expected ErrNoTranscript, got %v", err)
	}
}

func TestService_SendAndDelete(t *testing.T) {
	llm := &fakeLLM{reply: "It is about greetings."}
	svc := NewService(setupStore(t), llm, "http://ollama")
	ctx := context.Background()
	info := transcriptInfo("hello", "hi")

	if _, err := svc.Send(ctx, "task-1", info, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}

	h, err := svc.Send(ctx, "task-1", info, " What is it about? ")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(h.Messages) != 3 || h.Messages[1].Text != "What is it about?" || h.Messages[2].Text != "It is about greetings." {
		t.Errorf("Unexpected messages %+v", h.Messages)
	}
	roles := []string{}
	for _, m := range h.ConversationHistory {
		roles = append(roles, m.Role)
	}
	if strings.Join(roles, ",") != "system,user,assistant" {
		t.Errorf("Unexpected history roles %v", roles)
	}
	if len(llm.got) != 1 || len(llm.got[0]) != 2 {
		t.Errorf("Model should see system + user, got %+v", llm.got)
	}

	slugs, _ := svc.Slugs(ctx)
	if len(slugs) != 1 || slugs[0] != "task-1" {
		t.Errorf("Unexpected slugs %v", slugs)
	}

	fresh, err := svc.Delete(ctx, "task-1", info)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Messages) != 1 || len(fresh.ConversationHistory) != 1 {
		t.Errorf("Delete should reset the conversation, got %+v", fresh)
	}
	t.Logf("✅ Conversation reset after %d messages", len(h.Messages))
}

func TestService_SendModelFailure(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	svc := NewService(setupStore(t), llm, "http://ollama:11434")
	ctx := context.Background()

	h, err := svc.Send(ctx, "task-1", transcriptInfo("hello"), "hi?")
	if err == nil {
		t.Fatal("Expected model error")
	}
	if h == nil || len(h.Messages) != 3 || !strings.Contains(h.Messages[2].Text, "http://ollama:11434") {
		t.Fatalf("Expected apology bubble, got %+v", h)
	}
	if len(h.ConversationHistory) != 1 {
		t.Errorf("Failed turn must not enter the model history, got %+v", h.ConversationHistory)
	}

	stored, _ := svc.Open(ctx, "task-1", nil)
	if len(stored.Messages) != 3 {
		t.Errorf("Apology should be persisted, got %d messages", len(stored.Messages))
	}
}

func TestOllama_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.Model != "gemma3:latest" || len(req.Messages) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "bad request"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": "answer"},
			"done":    true,
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "gemma3:latest", 5*time.Second)
	got, err := o.Chat(context.Background(), []Message{{Role: RoleSystem, Content: "ctx"}, {Role: RoleUser, Content: "q"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got.Content != "answer" || got.Role != RoleAssistant {
		t.Errorf("Unexpected reply %+v", got)
	}

	_, err = o.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	if err == nil || !strings.Contains(err.Error(), "bad request") {
		t.Errorf("Expected server error, got %v", err)
	}
}
