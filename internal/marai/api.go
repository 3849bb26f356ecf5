package marai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marai-studio/internal/timeline"
)

// APIError is a non-200 answer from the backend.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marai %s %s: %d %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type Task struct {
	ID                      int64          `json:"id"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
	UserID                  int64          `json:"user_id"`
	Slug                    string         `json:"slug"`
	Name                    string         `json:"name"`
	TaskType                string         `json:"task_type"`
	Status                  string         `json:"status"`
	Publish                 bool           `json:"publish"`
	ThumbnailURL            string         `json:"thumbnail_url"`
	YoutubeVideoURL         string         `json:"youtube_video_url"`
	RawVideoURL             string         `json:"raw_video_url,omitempty"`
	FinalVideoURL           string         `json:"final_video_url,omitempty"`
	TranslatedTranscriptURL string         `json:"translated_transcript_url,omitempty"`
	PublishMetadata         map[string]any `json:"publish_metadata,omitempty"`
}

// Task types as reported in Task.TaskType.
const (
	TaskAutoDubbing   = "auto_dubbing"
	TaskTranscripting = "transcripting"
)

type TaskStatus struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// InfoKind names the per-task timeline payload endpoints.
type InfoKind string

const (
	InfoDubbing    InfoKind = "dubbing_info"
	InfoSubtitle   InfoKind = "subtitle_info"
	InfoTranscript InfoKind = "transcript_info"
)

func taskPath(slug string, parts ...string) string {
	p := apiPrefix + "/tasks/" + url.PathEscape(slug)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// decode unwraps the {"data": ...} envelope of a 200 response into dst.
func decode(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrRequestTimeout
		}
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Method: resp.Request.Method, Path: resp.Request.URL.Path, Status: resp.StatusCode, Body: string(body)}
	}
	if dst == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("decode response: missing data")
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dst any) error {
	resp, err := c.Request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	return decode(resp, dst)
}

// SignIn exchanges a Google credential for an access token and stores it.
func (c *Client) SignIn(ctx context.Context, googleCredential string) (string, error) {
	resp, err := c.Request(ctx, http.MethodPost, apiPrefix+"/user/sign_in", nil, map[string]string{
		"google_credential": googleCredential,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("sign in: empty access token")
	}
	if err := c.tokens.SetToken(out.AccessToken); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return out.AccessToken, nil
}

func (c *Client) CheckAuth(ctx context.Context) (*User, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var u User
	if err := c.getJSON(ctx, apiPrefix+"/user/check_auth", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) ListTasks(ctx context.Context, params url.Values) ([]Task, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var tasks []Task
	if err := c.getJSON(ctx, apiPrefix+"/tasks", params, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) TaskDetail(ctx context.Context, slug string) (*Task, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var t Task
	if err := c.getJSON(ctx, taskPath(slug, "detail"), url.Values{"slug": {slug}}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) TaskStatus(ctx context.Context, slug string) (*TaskStatus, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var st TaskStatus
	if err := c.getJSON(ctx, taskPath(slug, "status"), url.Values{"slug": {slug}}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Info fetches one of the timeline payloads of a task.
func (c *Client) Info(ctx context.Context, slug string, kind InfoKind) (*timeline.Info, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	var info timeline.Info
	if err := c.getJSON(ctx, taskPath(slug, string(kind)), url.Values{"slug": {slug}}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// TaskLog returns the raw processing log of a task.
func (c *Client) TaskLog(ctx context.Context, slug string) (string, error) {
	if err := c.requireToken(); err != nil {
		return "", err
	}
	resp, err := c.Request(ctx, http.MethodGet, taskPath(slug, "log"), url.Values{"slug": {slug}}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Method: http.MethodGet, Path: resp.Request.URL.Path, Status: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}

func (c *Client) DeleteTask(ctx context.Context, slug string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	resp, err := c.Request(ctx, http.MethodDelete, taskPath(slug), url.Values{"slug": {slug}}, nil)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// UpdateTranscriptSegment saves one edited line.
func (c *Client) UpdateTranscriptSegment(ctx context.Context, slug string, line timeline.TranscriptLine) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	body := struct {
		timeline.TranscriptLine
		Speaker string `json:"speaker"`
		Slug    string `json:"slug"`
	}{TranscriptLine: line, Slug: slug}
	resp, err := c.Request(ctx, http.MethodPatch, taskPath(slug, "transcript_segment"), nil, body)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

// RenderSubtitle burns the translated subtitles into the task's video.
func (c *Client) RenderSubtitle(ctx context.Context, slug string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	resp, err := c.Request(ctx, http.MethodPost, taskPath(slug, "render_subtitle"), nil, map[string]string{"slug": slug})
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

type TranscriptingTask struct {
	TaskName        string
	YoutubeVideoURL string
	SourceLanguage  string
	SpeakerNumber   int
	Diarize         bool
	AudioFile       string
}

func (c *Client) CreateTranscriptingTask(ctx context.Context, t TranscriptingTask) (*Task, error) {
	form := Form{Fields: map[string]string{
		"task_name":         t.TaskName,
		"youtube_video_url": t.YoutubeVideoURL,
		"source_language":   t.SourceLanguage,
		"speaker_number":    strconv.Itoa(t.SpeakerNumber),
		"diarize":           strconv.FormatBool(t.Diarize),
	}}
	if t.AudioFile != "" {
		form.Files = append(form.Files, FormFile{Field: "audio_file", Path: t.AudioFile})
	}
	return c.createTask(ctx, apiPrefix+"/tasks/transcripting", form)
}

type AutoDubbingTask struct {
	TaskName        string
	YoutubeVideoURL string
	VoiceMode       string
	VoiceName       string
	VoicePitch      string
	VoiceRate       string
	SourceLanguage  string
	TargetLanguage  string
	SpeakerNumber   int
	VideoFile       string
}

func (c *Client) CreateAutoDubbingTask(ctx context.Context, t AutoDubbingTask) (*Task, error) {
	form := Form{Fields: map[string]string{
		"task_name":         t.TaskName,
		"youtube_video_url": t.YoutubeVideoURL,
		"voice_mode":        t.VoiceMode,
		"voice_name":        t.VoiceName,
		"voice_pitch":       t.VoicePitch,
		"voice_rate":        t.VoiceRate,
		"source_language":   t.SourceLanguage,
		"target_language":   t.TargetLanguage,
		"speaker_number":    strconv.Itoa(t.SpeakerNumber),
	}}
	if t.VideoFile != "" {
		form.Files = append(form.Files, FormFile{Field: "video_file", Path: t.VideoFile})
	}
	return c.createTask(ctx, apiPrefix+"/tasks/video/auto_dubbing", form)
}

func (c *Client) createTask(ctx context.Context, path string, form Form) (*Task, error) {
	if err := c.requireToken(); err != nil {
		return nil, err
	}
	resp, err := c.RequestForm(ctx, http.MethodPost, path, form)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := decode(resp, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ProcessTask moves a task to its next processing step.
func (c *Client) ProcessTask(ctx context.Context, slug string, fields map[string]string) error {
	if err := c.requireToken(); err != nil {
		return err
	}
	form := Form{Fields: map[string]string{"slug": slug}}
	for k, v := range fields {
		form.Fields[k] = v
	}
	resp, err := c.RequestForm(ctx, http.MethodPost, taskPath(slug, "process"), form)
	if err != nil {
		return err
	}
	return decode(resp, nil)
}

func (c *Client) requireToken() error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}
	return nil
}
