// Package backend talks to the AgriBot inference service: chat completion,
// speech-to-text and translation from English.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrUnavailable matches every transport, status and decoding failure.
	ErrUnavailable         = errors.New("backend unavailable")
	ErrUnsupportedLanguage = errors.New("unsupported target language")
	ErrEmptyTranslation    = errors.New("empty translation")
)

// Error carries the failing operation and, when the backend answered, its
// status code and detail message.
type Error struct {
	Op     string
	Status int
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrUnavailable, e.Cause}
	}
	return []error{ErrUnavailable}
}

// ChatReply is the assistant's answer to one query.
type ChatReply struct {
	Response        string
	EnglishResponse string
	AudioURL        string
	Language        string
	Module          string
}

type Transcription struct {
	Text string
}

type Translation struct {
	Text           string
	TargetLanguage string
}

// Client is the backend contract. Every method is a single request with no
// retries.
type Client interface {
	Chat(ctx context.Context, query string) (*ChatReply, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (*Transcription, error)
	Translate(ctx context.Context, text, targetLang string) (*Translation, error)
	Ping(ctx context.Context) error
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

// RequestStats describes one completed round trip.
type RequestStats struct {
	Op        string
	Status    int
	SentBytes int
	RecvBytes int
	RequestID string
	Metrics   *NetworkMetrics
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}
