package chat

import (
	"slices"
	"sync"
	"time"
)

// Store is the ordered, append-only message log. It always holds at least
// the greeting.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	lang     string
	now      func() time.Time
}

// NewStore returns a store seeded with the greeting for lang.
func NewStore(lang string) *Store {
	return newStoreWithClock(lang, time.Now)
}

func newStoreWithClock(lang string, now func() time.Time) *Store {
	s := &Store{lang: greetingLanguage(lang), now: now}
	s.messages = []Message{GreetingMessage(s.lang, now())}
	return s
}

func (s *Store) Append(m Message) {
	s.mu.Lock()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
}

// Reset replaces the log with a fresh greeting in the default language.
func (s *Store) Reset() Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := GreetingMessage(s.lang, s.now())
	s.messages = []Message{g}
	return g
}

// All returns a copy of the log in append order.
func (s *Store) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) Last() Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[len(s.messages)-1]
}

func (s *Store) Find(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// SetLanguage changes the greeting language used by the next Reset.
func (s *Store) SetLanguage(lang string) {
	s.mu.Lock()
	s.lang = greetingLanguage(lang)
	s.mu.Unlock()
}

func (s *Store) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}
