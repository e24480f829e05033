package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agribot/backend"
)

type recorder struct {
	mu      sync.Mutex
	changes int
	pending []bool
	notices []Notice
}

func (r *recorder) Changed(_ []Message, pending bool) {
	r.mu.Lock()
	r.changes++
	r.pending = append(r.pending, pending)
	r.mu.Unlock()
}

func (r *recorder) Notice(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func newTestSession(t *testing.T, fake *backend.Fake) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(fake, Options{Language: "en", Listener: rec, Now: fixedClock()})
	t.Cleanup(func() {
		fake.Release()
		s.Wait()
	})
	return s, rec
}

func wait(t *testing.T, turn *Turn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := turn.Wait(ctx); err != nil {
		t.Fatalf("turn did not finish: %v", err)
	}
}

func TestSubmitTextSuccess(t *testing.T) {
	fake := &backend.Fake{ChatReply: &backend.ChatReply{
		Response:        "Plant tomatoes after the last frost.",
		EnglishResponse: "Plant tomatoes after the last frost.",
		AudioURL:        "http://localhost:8000/static/audio/a.mp3",
		Language:        "en",
	}}
	s, _ := newTestSession(t, fake)

	turn, err := s.SubmitText(context.Background(), "  When should I plant tomatoes?  ")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	wait(t, turn)

	if turn.Outcome() != OutcomeReplied {
		t.Errorf("Outcome = %v", turn.Outcome())
	}
	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	user, bot := msgs[1], msgs[2]
	if !user.IsUser || user.Content != "When should I plant tomatoes?" {
		t.Errorf("user message = %+v", user)
	}
	if bot.IsUser || bot.Content != "Plant tomatoes after the last frost." || bot.AudioURL == "" {
		t.Errorf("assistant message = %+v", bot)
	}
	if s.Pending() {
		t.Error("session should be idle after reply")
	}
	if fake.Queries[0] != "When should I plant tomatoes?" {
		t.Errorf("query = %q", fake.Queries[0])
	}
}

func TestSubmitTextReplyWithoutAudio(t *testing.T) {
	tests := []struct {
		name  string
		reply backend.ChatReply
	}{
		{"english reply", backend.ChatReply{Response: "Plant after the last frost.", Language: "en"}},
		{"language omitted", backend.ChatReply{Response: "Plant after the last frost."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, &backend.Fake{ChatReply: &tt.reply})

			turn, err := s.SubmitText(context.Background(), "What's the best time to plant tomatoes?")
			if err != nil {
				t.Fatalf("SubmitText: %v", err)
			}
			wait(t, turn)

			msgs := s.Messages()
			if len(msgs) != 3 {
				t.Fatalf("len = %d, want 3", len(msgs))
			}
			if user := msgs[1]; !user.IsUser || user.Content != "What's the best time to plant tomatoes?" {
				t.Errorf("user message = %+v", user)
			}
			bot := msgs[2]
			if bot.IsUser || bot.Content != "Plant after the last frost." {
				t.Errorf("assistant message = %+v", bot)
			}
			if bot.Language != "en" {
				t.Errorf("Language = %q, want en", bot.Language)
			}
			if bot.AudioURL != "" {
				t.Errorf("AudioURL = %q, want empty", bot.AudioURL)
			}
			if s.Pending() {
				t.Error("session should be idle after reply")
			}
		})
	}
}

func TestSubmitTextAppendsUserMessageImmediately(t *testing.T) {
	fake := &backend.Fake{Gate: make(chan struct{})}
	s, rec := newTestSession(t, fake)

	turn, err := s.SubmitText(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if got := len(s.Messages()); got != 2 {
		t.Fatalf("len while pending = %d, want 2", got)
	}
	if !s.Pending() {
		t.Fatal("session should be pending")
	}
	if s.ShowSuggestions() {
		t.Error("suggestions hidden while pending")
	}

	fake.Release()
	wait(t, turn)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.pending) < 2 || !rec.pending[0] || rec.pending[len(rec.pending)-1] {
		t.Errorf("pending transitions = %v", rec.pending)
	}
}

func TestSubmitTextEmptyIsNoop(t *testing.T) {
	fake := &backend.Fake{}
	s, rec := newTestSession(t, fake)

	for _, in := range []string{"", "   ", "\n\t"} {
		if _, err := s.SubmitText(context.Background(), in); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("SubmitText(%q) error = %v", in, err)
		}
	}
	if len(s.Messages()) != 1 || s.Pending() || fake.Calls() != 0 {
		t.Error("blank submissions must not change state")
	}
	if rec.changes != 0 {
		t.Errorf("listener notified %d times", rec.changes)
	}
}

func TestSubmitWhilePendingRejected(t *testing.T) {
	fake := &backend.Fake{Gate: make(chan struct{})}
	s, _ := newTestSession(t, fake)

	first, err := s.SubmitText(context.Background(), "first")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SubmitText(context.Background(), "second"); !errors.Is(err, ErrPending) {
		t.Errorf("second submit error = %v, want ErrPending", err)
	}
	if _, err := s.SubmitAudio(context.Background(), []byte{1}, "audio/webm"); !errors.Is(err, ErrPending) {
		t.Errorf("audio submit error = %v, want ErrPending", err)
	}

	fake.Release()
	wait(t, first)
	if fake.Calls() != 1 {
		t.Errorf("backend called %d times, want 1", fake.Calls())
	}
	if len(s.Messages()) != 3 {
		t.Errorf("len = %d, want 3", len(s.Messages()))
	}
}

func TestSubmitTextNetworkFailureAppendsFallback(t *testing.T) {
	fake := &backend.Fake{ChatErr: &backend.Error{Op: "chat", Cause: errors.New("connection refused")}}
	s, rec := newTestSession(t, fake)

	turn, err := s.SubmitText(context.Background(), "rain tomorrow?")
	if err != nil {
		t.Fatal(err)
	}
	wait(t, turn)

	if turn.Outcome() != OutcomeFallback || !errors.Is(turn.Err(), backend.ErrUnavailable) {
		t.Errorf("Outcome = %v, Err = %v", turn.Outcome(), turn.Err())
	}
	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	fb := msgs[2]
	if fb.Content != FallbackText || fb.Language != "en" || fb.AudioURL != "" || fb.IsUser {
		t.Errorf("fallback = %+v", fb)
	}
	if len(rec.Notices()) != 0 {
		t.Error("chat failures are shown in the log, not as notices")
	}
	if s.Pending() {
		t.Error("session should be idle")
	}
}

func TestClearDiscardsStaleReply(t *testing.T) {
	fake := &backend.Fake{Gate: make(chan struct{})}
	s, _ := newTestSession(t, fake)

	turn, err := s.SubmitText(context.Background(), "old question")
	if err != nil {
		t.Fatal(err)
	}
	s.Clear()
	if s.Pending() {
		t.Fatal("Clear must return to idle")
	}
	if s.Generation() != 1 {
		t.Errorf("Generation = %d, want 1", s.Generation())
	}

	fake.Release()
	wait(t, turn)
	if turn.Outcome() != OutcomeDiscarded {
		t.Errorf("Outcome = %v, want discarded", turn.Outcome())
	}
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Content != Greeting("en") {
		t.Errorf("log after stale reply = %+v", msgs)
	}
}

func TestClearThenSubmitKeepsOnlyNewReply(t *testing.T) {
	gate := make(chan struct{})
	fake := &backend.Fake{Gate: gate}
	s, _ := newTestSession(t, fake)

	old, err := s.SubmitText(context.Background(), "old")
	if err != nil {
		t.Fatal(err)
	}
	s.Clear()
	fresh, err := s.SubmitText(context.Background(), "new")
	if err != nil {
		t.Fatalf("submit after clear: %v", err)
	}

	gate <- struct{}{}
	gate <- struct{}{}
	wait(t, old)
	wait(t, fresh)

	msgs := s.Messages()
	if len(msgs) != 3 || msgs[1].Content != "new" || msgs[2].Content != "You said: new" {
		t.Errorf("log = %+v", msgs)
	}
	if s.Pending() {
		t.Error("stale reply must not touch the pending flag of the new turn")
	}
}

func TestClearUsesCurrentLanguage(t *testing.T) {
	s, _ := newTestSession(t, &backend.Fake{})
	if err := s.SetLanguage("ta"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLanguage("xx"); !errors.Is(err, ErrUnsupportedLang) {
		t.Errorf("SetLanguage(xx) = %v", err)
	}
	s.Clear()
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Language != "ta" || msgs[0].Content != Greeting("ta") {
		t.Errorf("after clear = %+v", msgs)
	}
	if !s.ShowSuggestions() {
		t.Error("suggestions shown for a fresh log")
	}
}

func TestSubmitAudioSuccess(t *testing.T) {
	fake := &backend.Fake{
		Transcript: "how do I control aphids",
		ChatReply:  &backend.ChatReply{Response: "Neem oil spray.", Language: "en"},
	}
	s, _ := newTestSession(t, fake)

	turn, err := s.SubmitAudio(context.Background(), []byte("webm"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	wait(t, turn)

	msgs := s.Messages()
	if len(msgs) != 3 || msgs[1].Content != "how do I control aphids" || msgs[2].Content != "Neem oil spray." {
		t.Fatalf("log = %+v", msgs)
	}
	if fake.UploadTypes[0] != "audio/webm" {
		t.Errorf("mime = %q", fake.UploadTypes[0])
	}
}

func TestSubmitAudioEmptyTranscription(t *testing.T) {
	fake := &backend.Fake{Transcript: "   "}
	s, rec := newTestSession(t, fake)

	turn, err := s.SubmitAudio(context.Background(), []byte("webm"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	wait(t, turn)

	if turn.Outcome() != OutcomeEmptyTranscription {
		t.Errorf("Outcome = %v", turn.Outcome())
	}
	if len(s.Messages()) != 1 || s.Pending() || fake.Calls() != 0 {
		t.Error("empty transcription must not append or call chat")
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeEmptyTranscription {
		t.Errorf("notices = %+v", notices)
	}
}

func TestSubmitAudioTranscriptionFailure(t *testing.T) {
	fake := &backend.Fake{TranscribeErr: &backend.Error{Op: "speech-to-text", Status: 500, Detail: "Speech-to-text failed."}}
	s, rec := newTestSession(t, fake)

	turn, err := s.SubmitAudio(context.Background(), []byte("webm"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	wait(t, turn)

	if turn.Outcome() != OutcomeTranscriptionFailed {
		t.Errorf("Outcome = %v", turn.Outcome())
	}
	if len(s.Messages()) != 1 || s.Pending() {
		t.Error("failed transcription must leave the log untouched")
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeNetworkUnavailable || notices[0].Message != "❌ Error transcribing audio." {
		t.Errorf("notices = %+v", notices)
	}
}

func TestSubmitAudioEmptyBlob(t *testing.T) {
	s, _ := newTestSession(t, &backend.Fake{})
	if _, err := s.SubmitAudio(context.Background(), nil, "audio/webm"); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("error = %v", err)
	}
}

func TestClearDuringTranscription(t *testing.T) {
	fake := &backend.Fake{Gate: make(chan struct{}), Transcript: "late words"}
	s, rec := newTestSession(t, fake)

	turn, err := s.SubmitAudio(context.Background(), []byte("webm"), "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	s.Clear()
	fake.Release()
	wait(t, turn)

	if turn.Outcome() != OutcomeDiscarded {
		t.Errorf("Outcome = %v", turn.Outcome())
	}
	if len(s.Messages()) != 1 || fake.Calls() != 0 {
		t.Errorf("stale transcript leaked into the log: %+v", s.Messages())
	}
	if len(rec.Notices()) != 0 {
		t.Error("discarded turns raise no notice")
	}
}

func TestTranslate(t *testing.T) {
	fake := &backend.Fake{Translation: "मिट्टी की उर्वरता"}
	s, rec := newTestSession(t, fake)
	id := s.Messages()[0].ID

	got, err := s.Translate(context.Background(), id, "hi")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "मिट्टी की उर्वरता" {
		t.Errorf("got %q", got)
	}
	if s.Messages()[0].Content != Greeting("en") {
		t.Error("translation must not mutate the log")
	}

	if _, err := s.Translate(context.Background(), id, "fr"); !errors.Is(err, backend.ErrUnsupportedLanguage) {
		t.Errorf("fr error = %v", err)
	}
	if n := rec.Notices(); len(n) != 1 || n[0].Message != "❌ Translation failed" {
		t.Errorf("notices = %+v", n)
	}
	if _, err := s.Translate(context.Background(), "missing", "hi"); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("missing id error = %v", err)
	}
}

func TestOnMessageHook(t *testing.T) {
	var mu sync.Mutex
	var seen []Message
	fake := &backend.Fake{}
	s := NewSession(fake, Options{OnMessage: func(m Message) {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
	}})

	turn, err := s.SubmitText(context.Background(), "ping")
	if err != nil {
		t.Fatal(err)
	}
	wait(t, turn)
	s.Clear()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || !seen[0].IsUser || seen[1].IsUser || seen[2].Content != Greeting("en") {
		t.Errorf("seen = %+v", seen)
	}
}

// overlapListener records the highest number of listener calls in flight.
type overlapListener struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	notices  atomic.Int32
}

func (l *overlapListener) enter() {
	n := l.inFlight.Add(1)
	for {
		m := l.maxSeen.Load()
		if n <= m || l.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(200 * time.Microsecond)
	l.inFlight.Add(-1)
}

func (l *overlapListener) Changed([]Message, bool) { l.enter() }

func (l *overlapListener) Notice(Notice) {
	l.notices.Add(1)
	l.enter()
}

func TestListenerCallsAreSerialized(t *testing.T) {
	fail := &backend.Error{Op: "fake", Status: 500}
	fake := &backend.Fake{TranscribeErr: fail, TranslateErr: fail}
	l := &overlapListener{}
	s := NewSession(fake, Options{Language: "en", Listener: l, Now: fixedClock()})
	id := s.Messages()[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s.Translate(context.Background(), id, "hi")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if turn, err := s.SubmitAudio(context.Background(), []byte("webm"), "audio/webm"); err == nil {
					<-turn.Done()
				}
				s.Raise(NewNotice(NoticeBusy, nil))
			}
		}()
	}
	wg.Wait()
	s.Wait()

	if l.notices.Load() == 0 {
		t.Fatal("no notices delivered")
	}
	if got := l.maxSeen.Load(); got != 1 {
		t.Errorf("listener saw %d overlapping calls, want 1", got)
	}
}
