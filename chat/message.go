// Package chat holds the message log and the session state machine that
// sequences user input, backend calls and log updates.
package chat

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"agribot/backend"
)

// TimeFormat renders message timestamps as hour:minute local time.
const TimeFormat = "15:04"

// FallbackText is shown when the backend cannot answer a chat query.
const FallbackText = "❌ Failed to connect to AgriBot backend."

// translateMinRunes is the length above which a message without an English
// version offers on-demand translation.
const translateMinRunes = 100

// Message is one chat turn. Messages are immutable once appended.
type Message struct {
	ID          string
	Content     string
	IsUser      bool
	Timestamp   string
	Language    string
	EnglishText string
	AudioURL    string
	Module      string
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func stamp(now time.Time) string {
	return now.Local().Format(TimeFormat)
}

func NewUserMessage(text string, now time.Time) Message {
	return Message{
		ID:        newID(),
		Content:   text,
		IsUser:    true,
		Timestamp: stamp(now),
	}
}

func NewAssistantMessage(reply *backend.ChatReply, now time.Time) Message {
	lang := reply.Language
	if lang == "" {
		lang = backend.DefaultLanguage
	}
	return Message{
		ID:          newID(),
		Content:     reply.Response,
		Timestamp:   stamp(now),
		Language:    lang,
		EnglishText: reply.EnglishResponse,
		AudioURL:    reply.AudioURL,
		Module:      reply.Module,
	}
}

func FallbackMessage(now time.Time) Message {
	return Message{
		ID:        newID(),
		Content:   FallbackText,
		Timestamp: stamp(now),
		Language:  backend.DefaultLanguage,
	}
}

func GreetingMessage(lang string, now time.Time) Message {
	lang = greetingLanguage(lang)
	return Message{
		ID:        newID(),
		Content:   Greeting(lang),
		Timestamp: stamp(now),
		Language:  lang,
	}
}

// HasEnglish reports whether an English rendering differs from Content.
func (m Message) HasEnglish() bool {
	return !m.IsUser && m.EnglishText != "" && m.EnglishText != m.Content
}

// Translatable reports whether the message offers translation into a
// regional language.
func (m Message) Translatable() bool {
	return !m.IsUser && m.EnglishText == "" && utf8.RuneCountInString(m.Content) > translateMinRunes
}

func (m Message) HasAudio() bool {
	return !m.IsUser && m.AudioURL != ""
}

// ModuleLabel names the backend module that produced the answer.
func (m Message) ModuleLabel() string {
	switch m.Module {
	case "weather":
		return "Weather"
	case "mandi_prices":
		return "Mandi prices"
	case "schemes":
		return "Schemes"
	case "agriculture_info":
		return "Crop care"
	default:
		return ""
	}
}
