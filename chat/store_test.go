package chat

import (
	"fmt"
	"testing"
	"time"

	"agribot/backend"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 6, 1, 9, 5, 0, 0, time.Local)
	return func() time.Time { return t }
}

func TestNewStoreSeedsGreeting(t *testing.T) {
	s := NewStore("en")
	msgs := s.All()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	g := msgs[0]
	if g.IsUser || g.Content != Greeting("en") || g.Language != "en" || g.ID == "" {
		t.Errorf("greeting = %+v", g)
	}
}

func TestStoreAllPreservesOrder(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			s := NewStore("en")
			var ids []string
			for i := range n {
				m := NewUserMessage(fmt.Sprintf("msg %d", i), time.Now())
				ids = append(ids, m.ID)
				s.Append(m)
			}
			all := s.All()
			if len(all) != n+1 {
				t.Fatalf("len = %d, want %d", len(all), n+1)
			}
			for i, id := range ids {
				if all[i+1].ID != id {
					t.Fatalf("position %d has %s, want %s", i+1, all[i+1].ID, id)
				}
			}
			if len(s.All()) != n+1 {
				t.Error("All must not mutate the store")
			}
		})
	}
}

func TestStoreAllReturnsCopy(t *testing.T) {
	s := NewStore("en")
	all := s.All()
	all[0].Content = "tampered"
	if s.All()[0].Content == "tampered" {
		t.Error("All must return a copy")
	}
}

func TestStoreReset(t *testing.T) {
	s := NewStore("en")
	first := s.All()[0]
	s.Append(NewUserMessage("hello", time.Now()))
	s.SetLanguage("hi")

	g := s.Reset()
	all := s.All()
	if len(all) != 1 || all[0].ID != g.ID {
		t.Fatalf("after reset = %+v", all)
	}
	if g.ID == first.ID {
		t.Error("reset must create a new greeting id")
	}
	if g.Language != "hi" || g.Content != Greeting("hi") {
		t.Errorf("greeting language = %q", g.Language)
	}
}

func TestStoreFindAndLast(t *testing.T) {
	s := NewStore("en")
	m := NewUserMessage("where is my crop", time.Now())
	s.Append(m)
	if got, ok := s.Find(m.ID); !ok || got.Content != m.Content {
		t.Errorf("Find = %+v, %v", got, ok)
	}
	if _, ok := s.Find("nope"); ok {
		t.Error("Find should miss unknown ids")
	}
	if s.Last().ID != m.ID {
		t.Error("Last should return the newest message")
	}
}

func TestUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for range 1000 {
		id := newID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestGreetingFallback(t *testing.T) {
	if Greeting("fr") != Greeting("en") {
		t.Error("unknown language should fall back to English")
	}
	if Greeting("hi-IN") != Greeting("hi") {
		t.Error("region subtags should be ignored")
	}
	for _, code := range backend.TranslationTargets() {
		if !HasGreeting(code) {
			t.Errorf("missing greeting for %s", code)
		}
	}
}

func TestMessageTimestamp(t *testing.T) {
	now := fixedClock()()
	if got := NewUserMessage("x", now).Timestamp; got != "09:05" {
		t.Errorf("Timestamp = %q, want 09:05", got)
	}
}

func TestMessageAffordances(t *testing.T) {
	long := "Crop rotation with legumes restores nitrogen, breaks pest cycles and improves soil structure across seasons for most farms."
	tests := []struct {
		name         string
		msg          Message
		english      bool
		translatable bool
		audio        bool
	}{
		{"user", Message{IsUser: true, Content: long}, false, false, false},
		{"short assistant", Message{Content: "Use compost."}, false, false, false},
		{"long assistant", Message{Content: long}, false, true, false},
		{"regional with english", Message{Content: "खाद डालें", EnglishText: "Apply manure", AudioURL: "http://x/a.mp3"}, true, false, true},
		{"english echo", Message{Content: long, EnglishText: long}, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.HasEnglish(); got != tt.english {
				t.Errorf("HasEnglish = %v", got)
			}
			if got := tt.msg.Translatable(); got != tt.translatable {
				t.Errorf("Translatable = %v", got)
			}
			if got := tt.msg.HasAudio(); got != tt.audio {
				t.Errorf("HasAudio = %v", got)
			}
		})
	}
}

func TestNewAssistantMessage(t *testing.T) {
	m := NewAssistantMessage(&backend.ChatReply{Response: "ok", Module: "mandi_prices"}, time.Now())
	if m.Language != "en" {
		t.Errorf("Language = %q, want en", m.Language)
	}
	if m.ModuleLabel() != "Mandi prices" {
		t.Errorf("ModuleLabel = %q", m.ModuleLabel())
	}
	f := FallbackMessage(time.Now())
	if f.Content != FallbackText || f.Language != "en" || f.AudioURL != "" || f.IsUser {
		t.Errorf("fallback = %+v", f)
	}
}
