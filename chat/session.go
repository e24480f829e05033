package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agribot/backend"
)

var (
	// ErrEmptyInput is returned for blank submissions; callers ignore it.
	ErrEmptyInput = errors.New("empty input")
	// ErrPending rejects a submission while a backend call is outstanding.
	ErrPending            = errors.New("a request is already pending")
	ErrEmptyTranscription = errors.New("could not transcribe your voice")
	ErrUnknownMessage     = errors.New("unknown message")
	ErrUnsupportedLang    = errors.New("unsupported language")
)

type NoticeKind int

const (
	NoticeNetworkUnavailable NoticeKind = iota
	NoticeEmptyTranscription
	NoticeDeviceUnavailable
	NoticeTranslationFailed
	NoticePlaybackFailed
	NoticeBusy
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeNetworkUnavailable:
		return "network_unavailable"
	case NoticeEmptyTranscription:
		return "empty_transcription"
	case NoticeDeviceUnavailable:
		return "device_unavailable"
	case NoticeTranslationFailed:
		return "translation_failed"
	case NoticePlaybackFailed:
		return "playback_failed"
	case NoticeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Notice is a transient, user-visible message that is not part of the log.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}

func NewNotice(kind NoticeKind, err error) Notice {
	var msg string
	switch kind {
	case NoticeNetworkUnavailable:
		msg = "❌ Error transcribing audio."
	case NoticeEmptyTranscription:
		msg = "Could not transcribe your voice."
	case NoticeDeviceUnavailable:
		msg = "❌ Unable to access microphone. Please check your audio settings."
	case NoticeTranslationFailed:
		msg = "❌ Translation failed"
	case NoticePlaybackFailed:
		msg = "❌ Could not play the voice reply."
	case NoticeBusy:
		msg = "Still waiting for the previous answer."
	}
	return Notice{Kind: kind, Message: msg, Err: err}
}

// Listener receives state changes. Calls are serialized and carry the
// latest snapshot, so a listener may simply re-render.
type Listener interface {
	Changed(messages []Message, pending bool)
	Notice(n Notice)
}

type Outcome int

const (
	OutcomeInFlight Outcome = iota
	OutcomeReplied
	OutcomeFallback
	OutcomeEmptyTranscription
	OutcomeTranscriptionFailed
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeFallback:
		return "fallback"
	case OutcomeEmptyTranscription:
		return "empty_transcription"
	case OutcomeTranscriptionFailed:
		return "transcription_failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "in_flight"
	}
}

// Turn tracks one submission until its result is applied or discarded.
type Turn struct {
	generation uint64
	done       chan struct{}
	outcome    Outcome
	err        error
}

func newTurn(gen uint64) *Turn {
	return &Turn{generation: gen, done: make(chan struct{})}
}

func (t *Turn) Done() <-chan struct{} { return t.done }

// Outcome and Err are valid once Done is closed.
func (t *Turn) Outcome() Outcome { return t.outcome }
func (t *Turn) Err() error       { return t.err }

func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	Language string
	Listener Listener
	// OnMessage observes every message appended by the session.
	OnMessage func(Message)
	Now       func() time.Time
}

// Session owns the message store and allows at most one outstanding
// backend call. Clear bumps a generation counter; results from an older
// generation are dropped on arrival.
type Session struct {
	client    backend.Client
	store     *Store
	listener  Listener
	onMessage func(Message)
	now       func() time.Time

	mu         sync.Mutex
	pending    bool
	generation uint64

	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

func NewSession(client backend.Client, opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		client:    client,
		store:     newStoreWithClock(opts.Language, now),
		listener:  opts.Listener,
		onMessage: opts.OnMessage,
		now:       now,
	}
}

func (s *Session) Messages() []Message { return s.store.All() }

func (s *Session) Store() *Store { return s.store }

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) Language() string { return s.store.Language() }

// SetLanguage sets the default language used for the next greeting.
func (s *Session) SetLanguage(lang string) error {
	if !HasGreeting(lang) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLang, lang)
	}
	s.store.SetLanguage(lang)
	return nil
}

// ShowSuggestions reports whether starter questions should be offered.
func (s *Session) ShowSuggestions() bool {
	return s.store.Len() == 1 && !s.Pending()
}

// SubmitText appends the user's message and asks the backend for a reply.
func (s *Session) SubmitText(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrPending
	}
	s.pending = true
	turn := newTurn(s.generation)
	msg := NewUserMessage(text, s.now())
	s.store.Append(msg)
	s.mu.Unlock()

	s.appended(msg)
	s.notify()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.askBackend(ctx, turn, text)
	}()
	return turn, nil
}

// SubmitAudio transcribes a recording and, when speech was recognised,
// submits the transcript as a text turn. No message is appended when
// transcription fails or comes back empty.
func (s *Session) SubmitAudio(ctx context.Context, data []byte, mimeType string) (*Turn, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrPending
	}
	s.pending = true
	turn := newTurn(s.generation)
	s.mu.Unlock()
	s.notify()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transcribe(ctx, turn, data, mimeType)
	}()
	return turn, nil
}

func (s *Session) transcribe(ctx context.Context, turn *Turn, data []byte, mimeType string) {
	tr, err := s.client.Transcribe(ctx, data, mimeType)
	if err != nil {
		s.abandon(turn, OutcomeTranscriptionFailed, NewNotice(NoticeNetworkUnavailable, err))
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		s.abandon(turn, OutcomeEmptyTranscription, NewNotice(NoticeEmptyTranscription, ErrEmptyTranscription))
		return
	}

	s.mu.Lock()
	if turn.generation != s.generation {
		s.mu.Unlock()
		s.complete(turn, OutcomeDiscarded, nil)
		return
	}
	msg := NewUserMessage(text, s.now())
	s.store.Append(msg)
	s.mu.Unlock()

	s.appended(msg)
	s.notify()
	s.askBackend(ctx, turn, text)
}

func (s *Session) askBackend(ctx context.Context, turn *Turn, query string) {
	reply, err := s.client.Chat(ctx, query)

	var msg Message
	outcome := OutcomeReplied
	if err != nil {
		msg = FallbackMessage(s.now())
		outcome = OutcomeFallback
	} else {
		msg = NewAssistantMessage(reply, s.now())
	}

	s.mu.Lock()
	if turn.generation != s.generation {
		s.mu.Unlock()
		s.complete(turn, OutcomeDiscarded, err)
		return
	}
	s.store.Append(msg)
	s.pending = false
	s.mu.Unlock()

	s.appended(msg)
	s.notify()
	s.complete(turn, outcome, err)
}

// abandon ends a turn without appending anything and raises n.
func (s *Session) abandon(turn *Turn, outcome Outcome, n Notice) {
	s.mu.Lock()
	if turn.generation != s.generation {
		s.mu.Unlock()
		s.complete(turn, OutcomeDiscarded, n.Err)
		return
	}
	s.pending = false
	s.mu.Unlock()

	s.notify()
	s.Raise(n)
	s.complete(turn, outcome, n.Err)
}

func (s *Session) complete(turn *Turn, outcome Outcome, err error) {
	turn.outcome = outcome
	turn.err = err
	close(turn.done)
}

// Clear resets the log to a fresh greeting and returns to idle. An
// outstanding call is not cancelled; its result is discarded.
func (s *Session) Clear() {
	s.mu.Lock()
	s.generation++
	g := s.store.Reset()
	s.pending = false
	s.mu.Unlock()

	s.appended(g)
	s.notify()
}

// Translate renders a message in targetLang without changing the log.
func (s *Session) Translate(ctx context.Context, messageID, targetLang string) (string, error) {
	m, ok := s.store.Find(messageID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	text := m.Content
	if m.EnglishText != "" {
		text = m.EnglishText
	}
	tr, err := s.client.Translate(ctx, text, targetLang)
	if err != nil {
		s.Raise(NewNotice(NoticeTranslationFailed, err))
		return "", err
	}
	return tr.Text, nil
}

// Raise forwards a notice from outside the session, e.g. a microphone failure.
func (s *Session) Raise(n Notice) {
	if s.listener == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.listener.Notice(n)
}

// Wait blocks until every in-flight turn has finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) appended(m Message) {
	if s.onMessage != nil {
		s.onMessage(m)
	}
}

func (s *Session) notify() {
	if s.listener == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	msgs, pending := s.store.All(), s.pending
	s.mu.Unlock()
	s.listener.Changed(msgs, pending)
}
