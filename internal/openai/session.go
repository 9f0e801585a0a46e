package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-companion/internal/config"
	"github.com/discord-companion/internal/logging"
)

var (
	// ErrService marks transport-level and server-side failures (network,
	// timeout, 5xx, unparseable body). Callers treat these as per-turn
	// failures, never process-fatal.
	ErrService = errors.New("inference service error")
	// ErrEmptyResponse marks a well-formed reply with no usable content.
	ErrEmptyResponse = errors.New("inference service returned empty response")
)

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Session is the process-wide handle to the inference services and the owner
// of the shared conversation context. The mutex serializes every
// read-then-append over the context: concurrent turns from different rooms
// never interleave their mutations. Construct one and inject it; it is not a
// package global.
type Session struct {
	cfg     *config.OpenAIConfig
	client  *http.Client
	dataDir string

	mu      sync.Mutex
	context []message
}

// NewSession creates the session and seeds the context with the developer
// prompt when one is configured.
func NewSession(cfg *config.OpenAIConfig, dataDir string) *Session {
	s := &Session{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout()},
		dataDir: dataDir,
	}
	if cfg.Prompt != "" {
		s.context = append(s.context, message{Role: "developer", Content: cfg.Prompt})
	}
	return s
}

// ChatTurn appends content as a user turn, generates a reply over the
// accumulated context and appends it as the assistant turn. The whole
// exchange happens under the context lock, so concurrent turns are totally
// ordered. A failed generation leaves the context exactly as it was.
func (s *Session) ChatTurn(ctx context.Context, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := len(s.context)
	s.context = append(s.context, message{Role: "user", Content: content})

	reply, err := s.completeLocked(ctx)
	if err != nil {
		s.context = s.context[:snapshot]
		return "", err
	}
	s.context = append(s.context, message{Role: "assistant", Content: reply})
	return reply, nil
}

// Vision appends a user turn asking about the image at url and generates a
// description over the accumulated context.
func (s *Session) Vision(ctx context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := len(s.context)
	s.context = append(s.context, message{Role: "user", Content: []contentPart{
		{Type: "text", Text: "What is this image?"},
		{Type: "image_url", ImageURL: &imageURL{URL: url, Detail: "high"}},
	}})

	reply, err := s.completeLocked(ctx)
	if err != nil {
		s.context = s.context[:snapshot]
		return "", err
	}
	s.context = append(s.context, message{Role: "assistant", Content: reply})
	return reply, nil
}

// ContextLen returns the number of messages in the shared context.
func (s *Session) ContextLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.context)
}

// completeLocked runs one chat completion over the current context. Caller
// holds s.mu.
func (s *Session) completeLocked(ctx context.Context) (string, error) {
	payload := map[string]any{
		"model":      s.cfg.ChatModel,
		"messages":   s.context,
		"max_tokens": s.cfg.MaxTokens,
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := s.postJSON(ctx, "/chat/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

// Transcribe uploads the WAV container at wavPath and returns its transcript.
// An empty transcript is not an error; silence transcribes to nothing.
func (s *Session) Transcribe(ctx context.Context, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio container: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("failed to read audio container: %w", err)
	}
	if err := mw.WriteField("model", s.cfg.TranscribeModel); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: transcription: %v", ErrService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: transcription status %d", ErrService, resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: transcription decode: %v", ErrService, err)
	}
	logging.Debugw("transcription received", "path", wavPath, "chars", len(out.Text))
	return out.Text, nil
}

// Synthesize converts text to speech and stores the WAV asset under the data
// directory, returning its path.
func (s *Session) Synthesize(ctx context.Context, text string) (string, error) {
	payload := map[string]any{
		"model":           s.cfg.SpeechModel,
		"input":           text,
		"voice":           s.cfg.Voice,
		"response_format": "wav",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/audio/speech", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: synthesis: %v", ErrService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: synthesis status %d", ErrService, resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: synthesis read: %v", ErrService, err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: synthesis", ErrEmptyResponse)
	}

	path := filepath.Join(s.dataDir, fmt.Sprintf("speech_%s.wav", uuid.NewString()))
	if err := saveFileAtomic(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to store speech asset: %w", err)
	}
	logging.Infow("speech asset stored", "path", path, "bytes", len(audio))
	return path, nil
}

// Image generates an image for prompt and returns its URL.
func (s *Session) Image(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":           s.cfg.ImageModel,
		"prompt":          prompt,
		"n":               1,
		"size":            "1024x1024",
		"response_format": "url",
	}
	var out struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := s.postJSON(ctx, "/images/generations", payload, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return "", ErrEmptyResponse
	}
	return out.Data[0].URL, nil
}

func (s *Session) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s status %d", ErrService, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s decode: %v", ErrService, path, err)
	}
	return nil
}

func (s *Session) authorize(req *http.Request) {
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
}

// saveFileAtomic writes data to path by writing a temp file in the same
// directory, fsyncing, closing, and renaming into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Timeout exposes the per-call timeout for callers sizing their contexts.
func (s *Session) Timeout() time.Duration {
	return s.cfg.Timeout()
}
