package backend

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client. Reply fields are consulted at call time, and
// Gate, when set, blocks every call until it is closed or receives.
type Fake struct {
	mu sync.Mutex

	ChatReply     *ChatReply
	ChatErr       error
	Transcript    string
	TranscribeErr error
	Translation   string
	TranslateErr  error
	PingErr       error
	Audio         []byte
	AudioErr      error
	Gate          chan struct{}

	Queries     []string
	Uploads     [][]byte
	UploadTypes []string
	Translated  []string
}

func (f *Fake) wait(ctx context.Context) error {
	f.mu.Lock()
	gate := f.Gate
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return &Error{Op: "fake", Cause: ctx.Err()}
	}
}

func (f *Fake) Chat(ctx context.Context, query string) (*ChatReply, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, query)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ChatErr != nil {
		return nil, f.ChatErr
	}
	if f.ChatReply != nil {
		r := *f.ChatReply
		return &r, nil
	}
	return &ChatReply{Response: "You said: " + query, Language: DefaultLanguage}, nil
}

func (f *Fake) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error) {
	f.mu.Lock()
	f.Uploads = append(f.Uploads, audio)
	f.UploadTypes = append(f.UploadTypes, mimeType)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TranscribeErr != nil {
		return nil, f.TranscribeErr
	}
	return &Transcription{Text: f.Transcript}, nil
}

func (f *Fake) Translate(ctx context.Context, text, targetLang string) (*Translation, error) {
	if !IsTranslationTarget(targetLang) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, targetLang)
	}
	f.mu.Lock()
	f.Translated = append(f.Translated, text)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TranslateErr != nil {
		return nil, f.TranslateErr
	}
	out := f.Translation
	if out == "" {
		out = fmt.Sprintf("[%s] %s", targetLang, text)
	}
	return &Translation{Text: out, TargetLanguage: targetLang}, nil
}

func (f *Fake) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

func (f *Fake) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AudioErr != nil {
		return nil, f.AudioErr
	}
	if f.Audio == nil {
		return nil, &Error{Op: "audio", Status: 404, Detail: "no clip at " + url}
	}
	return f.Audio, nil
}

// Release opens the gate so blocked calls proceed.
func (f *Fake) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Gate != nil {
		close(f.Gate)
		f.Gate = nil
	}
}

// Calls returns how many chat queries have been received.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Queries)
}
