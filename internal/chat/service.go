package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"marai-studio/internal/kv"
	"marai-studio/internal/timeline"
)

var (
	ErrNoTranscript = errors.New("task has no transcript lines")
	ErrEmptyMessage = errors.New("empty message")
)

const (
	SenderUser = "user"
	SenderBot  = "bot"
)

const greeting = "Hi! I'm ready to help you analyze this transcript. Ask me anything you'd like to know about it!"

// ChatMessage is a bubble shown in the chat panel.
type ChatMessage struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Show      bool      `json:"show"`
}

// History is what gets persisted per task.
type History struct {
	Messages            []ChatMessage `json:"messages"`
	ConversationHistory []Message     `json:"conversationHistory"`
	LastUpdated         time.Time     `json:"lastUpdated"`
}

// Service keeps one conversation per task in the KV cache.
type Service struct {
	store *kv.Store
	llm   Completer
	host  string
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService builds a chat service. host is only used in the error
// message shown when the model cannot be reached.
func NewService(store *kv.Store, llm Completer, host string) *Service {
	return &Service{
		store: store,
		llm:   llm,
		host:  host,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func storageKey(slug string) string { return "chat_" + slug }

// TranscriptText joins the transcript line values, one per line.
func TranscriptText(info *timeline.Info) string {
	if info == nil || info.Transcript == nil {
		return ""
	}
	var b strings.Builder
	for _, l := range info.Transcript.TranscriptLines {
		b.WriteString(l.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

func systemMessage(info *timeline.Info) Message {
	return Message{
		Role: RoleSystem,
		Content: "You are an AI assistant that helps analyze transcripts. Here is the transcript to analyze: " +
			TranscriptText(info) + ". Answer questions based on this transcript.",
	}
}

func hasLines(info *timeline.Info) bool {
	return info != nil && info.Transcript != nil && len(info.Transcript.TranscriptLines) > 0
}

func (s *Service) lock(slug string) func() {
	s.mu.Lock()
	l, ok := s.locks[slug]
	if !ok {
		l = &sync.Mutex{}
		s.locks[slug] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) fresh(info *timeline.Info) *History {
	now := s.now()
	return &History{
		Messages: []ChatMessage{{
			ID:        0,
			Text:      greeting,
			Sender:    SenderBot,
			Timestamp: now,
			Show:      true,
		}},
		ConversationHistory: []Message{systemMessage(info)},
		LastUpdated:         now,
	}
}

func (s *Service) save(ctx context.Context, slug string, h *History) error {
	h.LastUpdated = s.now()
	return s.store.Put(ctx, storageKey(slug), h)
}

// openLocked returns the saved conversation or starts and saves a new one.
func (s *Service) openLocked(ctx context.Context, slug string, info *timeline.Info) (*History, error) {
	var h History
	err := s.store.Get(ctx, storageKey(slug), &h)
	if err == nil && len(h.Messages) > 0 && len(h.ConversationHistory) > 0 {
		return &h, nil
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		log.Printf("⚠️ Chat history for %s unreadable, starting over: %v", slug, err)
	}
	if !hasLines(info) {
		return nil, ErrNoTranscript
	}
	fresh := s.fresh(info)
	if err := s.save(ctx, slug, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Open loads the conversation of a task, starting one with the transcript
// as system context if none is stored.
func (s *Service) Open(ctx context.Context, slug string, info *timeline.Info) (*History, error) {
	defer s.lock(slug)()
	return s.openLocked(ctx, slug, info)
}

// Send appends the user's message, asks the model and stores both turns.
// When the model fails an apology bubble is stored instead of an answer
// and the error is returned alongside the updated history.
func (s *Service) Send(ctx context.Context, slug string, info *timeline.Info, text string) (*History, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	defer s.lock(slug)()
	h, err := s.openLocked(ctx, slug, info)
	if err != nil {
		return nil, err
	}

	now := s.now()
	h.Messages = append(h.Messages, ChatMessage{
		ID: now.UnixMilli(), Text: text, Sender: SenderUser, Timestamp: now, Show: true,
	})
	turn := append(append([]Message(nil), h.ConversationHistory...), Message{Role: RoleUser, Content: text})

	reply, llmErr := s.llm.Chat(ctx, turn)
	if llmErr != nil {
		log.Printf("❌ Chat for %s failed: %v", slug, llmErr)
		h.Messages = append(h.Messages, ChatMessage{
			ID:        now.UnixMilli() + 1,
			Text:      fmt.Sprintf("Sorry, something went wrong while processing your request. Make sure the Ollama server is running at %s", s.host),
			Sender:    SenderBot,
			Timestamp: s.now(),
			Show:      true,
		})
	} else {
		h.Messages = append(h.Messages, ChatMessage{
			ID: now.UnixMilli() + 1, Text: reply.Content, Sender: SenderBot, Timestamp: s.now(), Show: true,
		})
		h.ConversationHistory = append(turn, Message{Role: RoleAssistant, Content: reply.Content})
	}

	if err := s.save(ctx, slug, h); err != nil {
		return nil, err
	}
	if llmErr != nil {
		return h, fmt.Errorf("chat %s: %w", slug, llmErr)
	}
	return h, nil
}

// Delete drops the stored conversation and starts a new one.
func (s *Service) Delete(ctx context.Context, slug string, info *timeline.Info) (*History, error) {
	defer s.lock(slug)()
	if err := s.store.Delete(ctx, storageKey(slug)); err != nil {
		return nil, err
	}
	if !hasLines(info) {
		return nil, nil
	}
	fresh := s.fresh(info)
	if err := s.save(ctx, slug, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Slugs lists tasks with a stored conversation.
func (s *Service) Slugs(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, "chat_")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if slug, ok := strings.CutPrefix(k, "chat_"); ok {
			out = append(out, slug)
		}
	}
	return out, nil
}
