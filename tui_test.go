package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"agribot/audio"
	"agribot/backend"
	"agribot/chat"
	"agribot/config"
)

func newTestModel(t *testing.T, fake *backend.Fake) (tuiModel, *app) {
	t.Helper()
	cfg := config.Default()
	cfg.Sounds = false
	cfg.Markdown = false
	a := newApp(appConfig{Config: cfg, Client: fake})
	t.Cleanup(func() {
		fake.Release()
		a.session.Wait()
		a.Close()
	})
	m := newTUIModel(a)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	return m, a
}

func update(t *testing.T, m tuiModel, msg tea.Msg) tuiModel {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(tuiModel)
}

func press(t *testing.T, m tuiModel, key tea.KeyMsg) (tuiModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(key)
	return next.(tuiModel), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewBeforeResize(t *testing.T) {
	a := newApp(appConfig{Config: config.Default(), Client: &backend.Fake{}})
	defer a.Close()
	if got := newTUIModel(a).View(); got != "Loading..." {
		t.Errorf("View() = %q", got)
	}
}

func TestViewShowsGreetingAndSuggestions(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{})
	view := m.View()
	for _, want := range []string{"AgriBot", "connecting", "Try asking:", "ctrl+r"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestEnterSubmitsInput(t *testing.T) {
	fake := &backend.Fake{}
	m, a := newTestModel(t, fake)

	m, _ = press(t, m, runes("price of cotton"))
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter returned no command")
	}
	if m.input.Value() != "" {
		t.Errorf("input not cleared: %q", m.input.Value())
	}
	if msg := cmd(); msg != nil {
		t.Fatalf("submit command returned %#v", msg)
	}
	a.session.Wait()
	if len(fake.Queries) != 1 || fake.Queries[0] != "price of cotton" {
		t.Errorf("queries = %v", fake.Queries)
	}
}

func TestEnterIgnoredWhilePending(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{})
	m = update(t, m, sessionChangedMsg{Messages: m.messages, Pending: true})
	if _, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("enter while pending produced a command")
	}
	if !strings.Contains(m.View(), "typing") {
		t.Error("typing indicator not shown")
	}
}

func TestSuggestionShortcut(t *testing.T) {
	fake := &backend.Fake{}
	m, a := newTestModel(t, fake)

	_, cmd := press(t, m, runes("2"))
	if cmd == nil {
		t.Fatal("suggestion key returned no command")
	}
	cmd()
	a.session.Wait()
	if len(fake.Queries) != 1 || fake.Queries[0] != chat.SuggestedQuestions[1] {
		t.Errorf("queries = %v", fake.Queries)
	}
}

func TestTranslateCycle(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{})
	greeting := m.messages[0]

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	tr := m.translations[greeting.ID]
	if tr.lang != "hi" || !tr.loading {
		t.Fatalf("overlay = %+v, want loading hi", tr)
	}
	m = update(t, m, cmd())
	tr = m.translations[greeting.ID]
	if tr.loading || !strings.HasPrefix(tr.text, "[hi] ") {
		t.Fatalf("overlay = %+v", tr)
	}

	// A late result for a language no longer shown is dropped.
	m = update(t, m, translationMsg{ID: greeting.ID, Lang: "bn", Text: "stale"})
	if m.translations[greeting.ID].text == "stale" {
		t.Error("stale translation applied")
	}
	if len(m.messages) != 1 || m.messages[0].Content != greeting.Content {
		t.Error("translation changed the log")
	}
}

func TestTranslateFailureDropsOverlay(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{TranslateErr: &backend.Error{Op: "translate", Status: 502}})
	id := m.messages[0].ID

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	m = update(t, m, cmd())
	if _, ok := m.translations[id]; ok {
		t.Error("overlay kept after failure")
	}
}

func TestClearResetsOverlays(t *testing.T) {
	m, a := newTestModel(t, &backend.Fake{})
	m.translations[m.messages[0].ID] = translation{lang: "hi", text: "x"}
	m.selected = 0

	a.Clear()
	m = update(t, m, sessionChangedMsg{Messages: a.session.Messages()})
	if len(m.translations) != 0 || m.selected != -1 {
		t.Errorf("overlays survived clear: translations=%v selected=%d", m.translations, m.selected)
	}
}

func TestNoticeMarksOffline(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOffline bool
	}{
		{"connection refused", &backend.Error{Op: "chat", Cause: errors.New("connection refused")}, true},
		{"server error", &backend.Error{Op: "chat", Status: 500}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(t, &backend.Fake{})
			m = update(t, m, noticeMsg{Notice: chat.NewNotice(chat.NoticeNetworkUnavailable, tt.err)})
			offline := m.online != nil && !*m.online
			if offline != tt.wantOffline {
				t.Errorf("offline = %v, want %v", offline, tt.wantOffline)
			}
			if !strings.Contains(m.View(), m.notice.Message) {
				t.Error("notice not shown in status line")
			}
			m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
			if m.notice != nil {
				t.Error("esc did not dismiss the notice")
			}
		})
	}
}

func TestRecordingStatusLine(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{})
	m = update(t, m, recordingStartMsg{Device: "AirPods Pro"})
	m = update(t, m, silenceMsg{Event: audio.SilenceWarn})

	view := m.View()
	for _, want := range []string{"REC", "AirPods Pro", "(BT!)", "no voice detected"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if _, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("enter while recording produced a command")
	}

	m = update(t, m, recordingStopMsg{})
	if strings.Contains(m.View(), "REC") {
		t.Error("REC still shown after stop")
	}
}

func TestToggleEnglish(t *testing.T) {
	m, _ := newTestModel(t, &backend.Fake{})
	bot := chat.Message{ID: "b1", Content: "गेहूं नवंबर में बोएं", EnglishText: "Sow wheat in November", Language: "hi"}
	m = update(t, m, sessionChangedMsg{Messages: []chat.Message{m.messages[0], bot}})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	if !m.showEnglish["b1"] {
		t.Fatal("ctrl+e did not show English")
	}
	if !strings.Contains(m.renderThread(), "Sow wheat in November") {
		t.Error("English text not rendered")
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	if m.showEnglish["b1"] {
		t.Error("second ctrl+e did not hide English")
	}
}

func TestMoveSelection(t *testing.T) {
	m := tuiModel{selected: -1, messages: make([]chat.Message, 3)}
	steps := []struct {
		up   bool
		want int
	}{
		{true, 2},
		{true, 1},
		{true, 0},
		{true, 0},
		{false, 1},
		{false, 2},
		{false, -1},
	}
	for i, s := range steps {
		m.moveSelection(s.up)
		if m.selected != s.want {
			t.Fatalf("step %d: selected = %d, want %d", i, m.selected, s.want)
		}
	}
}

func TestNextTarget(t *testing.T) {
	targets := backend.TranslationTargets()
	lang := ""
	for _, want := range targets {
		lang = nextTarget(lang)
		if lang != want {
			t.Fatalf("nextTarget = %q, want %q", lang, want)
		}
	}
	if got := nextTarget(lang); got != "" {
		t.Errorf("after %q got %q, want off", lang, got)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"empty", "", 10, []string{""}},
		{"fits", "sow wheat", 20, []string{"sow wheat"}},
		{"breaks at spaces", "sow wheat in november", 10, []string{"sow wheat", "in", "november"}},
		{"keeps newlines", "a\nb", 10, []string{"a", "b"}},
		{"splits long word", "abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"exact split", "abcdef", 3, []string{"abc", "def"}},
		{"wide runes", "खेतखेत", 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.width)
			if tt.want == nil {
				if len(got) == 0 {
					t.Fatal("no lines")
				}
				return
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestWrapTextWidth(t *testing.T) {
	text := "धान की फसल में कीट नियंत्रण के लिए नीम का तेल छिड़कें"
	for _, line := range wrapText(text, 12) {
		if w := runewidth.StringWidth(line); w > 12 {
			t.Errorf("line %q is %d cells wide", line, w)
		}
	}
}
