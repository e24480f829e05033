package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"agribot/audio"
	"agribot/backend"
	"agribot/chat"
	"agribot/clipboard"
)

type pingMsg struct{ Err error }
type translationMsg struct {
	ID   string
	Lang string
	Text string
	Err  error
}
type copiedMsg struct {
	ID  string
	Err error
}
type errMsg struct{ Err error }

// translation is the overlay shown under a message; it never changes the log.
type translation struct {
	lang    string
	text    string
	loading bool
}

const (
	chromeLines = 4 // header, status, input, help
	meterWidth  = 20
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("28")).Padding(0, 1)
	onlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	meterStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	englishStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Italic(true)
	translateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	suggestStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))

	userBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("28")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)
	botBubble = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	selectedBorder = lipgloss.Color("214")
)

type tuiModel struct {
	app *app

	messages []chat.Message
	pending  bool
	// selected indexes messages; -1 follows the latest assistant message.
	selected     int
	showEnglish  map[string]bool
	translations map[string]translation
	playing      string
	notice       *chat.Notice
	copied       string

	online    *bool
	lastReq   string
	recording bool
	recDevice string
	recTime   time.Duration
	level     float64
	noVoice   bool

	markdown bool
	md       *glamour.TermRenderer
	mdWidth  int

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
}

func newTUIModel(a *app) tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about crops, weather, mandi prices..."
	ti.Prompt = "› "
	ti.CharLimit = 1000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = dimStyle

	return tuiModel{
		app:          a,
		messages:     a.session.Messages(),
		selected:     -1,
		showEnglish:  make(map[string]bool),
		translations: make(map[string]translation),
		markdown:     a.cfg.Markdown,
		input:        ti,
		viewport:     viewport.New(80, 20),
		spinner:      sp,
	}
}

func NewTUIProgram(a *app) *tea.Program {
	return tea.NewProgram(newTUIModel(a), tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.ping())
}

func (m tuiModel) ping() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.app.ctx, 5*time.Second)
		defer cancel()
		return pingMsg{Err: m.app.client.Ping(ctx)}
	}
}

// do runs fn off the event loop. Session calls report back through the
// sink, which sends into the program and must not block Update.
func do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{Err: err}
		}
		return nil
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeLines, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh(true)
		return m, nil

	case tea.KeyMsg:
		model, cmd, handled := m.handleKey(msg)
		if handled {
			return model, cmd
		}
		m = model

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.pending {
			m.refresh(false)
		}
		return m, cmd

	case pingMsg:
		ok := msg.Err == nil
		m.online = &ok
		return m, nil

	case sessionChangedMsg:
		grew := len(msg.Messages) != len(m.messages)
		if len(msg.Messages) < len(m.messages) || (len(msg.Messages) > 0 && len(m.messages) > 0 && msg.Messages[0].ID != m.messages[0].ID) {
			// Cleared: drop overlays that belonged to the old log.
			m.selected = -1
			m.showEnglish = make(map[string]bool)
			m.translations = make(map[string]translation)
			m.playing = ""
		}
		m.messages = msg.Messages
		m.pending = msg.Pending
		if m.pending || m.recording {
			m.input.Blur()
		} else {
			m.input.Focus()
		}
		m.refresh(grew)
		return m, nil

	case noticeMsg:
		n := msg.Notice
		m.notice = &n
		if n.Kind == chat.NoticeNetworkUnavailable && errors.Is(n.Err, backend.ErrUnavailable) {
			var status *backend.Error
			if !errors.As(n.Err, &status) || status.Status == 0 {
				offline := false
				m.online = &offline
			}
		}
		return m, nil

	case recordingStartMsg:
		m.recording = true
		m.recDevice = msg.Device
		m.recTime = 0
		m.level = 0
		m.noVoice = false
		m.input.Blur()
		return m, nil

	case recordingStopMsg:
		m.recording = false
		m.level = 0
		m.noVoice = false
		if !m.pending {
			m.input.Focus()
		}
		return m, nil

	case recordingTickMsg:
		m.recTime = msg.Elapsed
		return m, nil

	case audioLevelMsg:
		if m.recording {
			m.level = m.level*0.6 + msg.Level*0.4
		}
		return m, nil

	case silenceMsg:
		switch msg.Event {
		case audio.SilenceWarn, audio.SilenceRepeat:
			m.noVoice = true
		case audio.SilenceWarnClear:
			m.noVoice = false
		}
		return m, nil

	case playbackStartMsg:
		m.playing = msg.ID
		m.refresh(false)
		return m, nil

	case playbackDoneMsg:
		if m.playing == msg.ID {
			m.playing = ""
			m.refresh(false)
		}
		return m, nil

	case translationMsg:
		t, ok := m.translations[msg.ID]
		if !ok || t.lang != msg.Lang {
			return m, nil
		}
		if msg.Err != nil {
			delete(m.translations, msg.ID)
		} else {
			m.translations[msg.ID] = translation{lang: msg.Lang, text: msg.Text}
		}
		m.refresh(false)
		return m, nil

	case copiedMsg:
		if msg.Err != nil {
			m.notice = &chat.Notice{Message: "Copy failed: " + msg.Err.Error(), Err: msg.Err}
		} else {
			m.copied = msg.ID
			m.refresh(false)
		}
		return m, nil

	case requestMsg:
		m.lastReq = requestLine(msg.Stats)
		online := true
		m.online = &online
		return m, nil

	case errMsg:
		return m, nil
	}

	if !m.pending && !m.recording {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey applies global shortcuts. handled=false lets the key fall
// through to the text input and viewport.
func (m tuiModel) handleKey(msg tea.KeyMsg) (tuiModel, tea.Cmd, bool) {
	a := m.app
	switch key := msg.String(); key {
	case "ctrl+c":
		return m, tea.Quit, true

	case "esc":
		m.notice = nil
		return m, nil, true

	case "enter":
		if m.pending || m.recording {
			return m, nil, true
		}
		text := m.input.Value()
		m.input.Reset()
		m.notice = nil
		return m, do(func() error { _, err := a.Submit(text); return err }), true

	case "ctrl+r":
		m.notice = nil
		return m, do(func() error { _, err := a.ToggleRecording(); return err }), true

	case "ctrl+l":
		m.notice = nil
		return m, do(func() error { a.Clear(); return nil }), true

	case "up", "down":
		m.moveSelection(key == "up")
		m.refresh(false)
		m.scrollToSelection()
		return m, nil, true

	case "ctrl+p":
		sel, ok := m.target()
		if !ok || !sel.HasAudio() {
			return m, nil, true
		}
		return m, do(func() error { return a.TogglePlayback(sel.ID) }), true

	case "ctrl+e":
		sel, ok := m.target()
		if ok && sel.HasEnglish() {
			m.showEnglish[sel.ID] = !m.showEnglish[sel.ID]
			m.refresh(false)
		}
		return m, nil, true

	case "ctrl+t":
		sel, ok := m.target()
		if !ok || sel.IsUser {
			return m, nil, true
		}
		lang := nextTarget(m.translations[sel.ID].lang)
		if lang == "" {
			delete(m.translations, sel.ID)
			m.refresh(false)
			return m, nil, true
		}
		m.translations[sel.ID] = translation{lang: lang, loading: true}
		m.refresh(false)
		id := sel.ID
		return m, func() tea.Msg {
			text, err := a.Translate(id, lang)
			return translationMsg{ID: id, Lang: lang, Text: text, Err: err}
		}, true

	case "ctrl+y":
		sel, ok := m.target()
		if !ok {
			return m, nil, true
		}
		text := sel.Content
		if t, ok := m.translations[sel.ID]; ok && t.text != "" {
			text = t.text
		} else if m.showEnglish[sel.ID] {
			text = sel.EnglishText
		}
		id := sel.ID
		return m, func() tea.Msg {
			return copiedMsg{ID: id, Err: clipboard.Copy(text)}
		}, true

	case "1", "2", "3", "4":
		if m.input.Value() != "" || !m.suggestionsVisible() {
			return m, nil, false
		}
		q := chat.SuggestedQuestions[int(key[0]-'1')]
		return m, do(func() error { _, err := a.Submit(q); return err }), true
	}
	return m, nil, false
}

func (m tuiModel) suggestionsVisible() bool {
	return len(m.messages) == 1 && !m.pending && !m.recording
}

// target is the message the per-message shortcuts act on.
func (m tuiModel) target() (chat.Message, bool) {
	if m.selected >= 0 && m.selected < len(m.messages) {
		return m.messages[m.selected], true
	}
	for i := len(m.messages) - 1; i >= 0; i-- {
		if !m.messages[i].IsUser {
			return m.messages[i], true
		}
	}
	return chat.Message{}, false
}

func (m *tuiModel) moveSelection(up bool) {
	n := len(m.messages)
	if n == 0 {
		return
	}
	cur := m.selected
	if cur < 0 {
		cur = n
	}
	if up {
		cur = max(cur-1, 0)
	} else {
		cur++
	}
	if cur >= n {
		cur = -1
	}
	m.selected = cur
}

func nextTarget(current string) string {
	targets := backend.TranslationTargets()
	if current == "" {
		return targets[0]
	}
	for i, t := range targets {
		if t == current && i+1 < len(targets) {
			return targets[i+1]
		}
	}
	return ""
}

func (m *tuiModel) scrollToSelection() {
	if m.selected < 0 {
		m.viewport.GotoBottom()
		return
	}
	line := 0
	for i := 0; i < m.selected; i++ {
		line += lipgloss.Height(m.renderMessage(i)) + 1
	}
	m.viewport.SetYOffset(line)
}

// refresh re-renders the thread into the viewport. follow scrolls to the
// end when the reader was already there.
func (m *tuiModel) refresh(follow bool) {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderThread())
	if follow && (atBottom || m.selected < 0) {
		m.viewport.GotoBottom()
	}
}

func (m *tuiModel) renderThread() string {
	var b strings.Builder
	for i := range m.messages {
		b.WriteString(m.renderMessage(i))
		b.WriteString("\n")
	}
	if m.pending {
		b.WriteString(m.spinner.View() + dimStyle.Render(" AgriBot is typing…") + "\n")
	}
	if m.suggestionsVisible() {
		b.WriteString("\n" + dimStyle.Render("Try asking:") + "\n")
		for i, q := range chat.SuggestedQuestions {
			b.WriteString(suggestStyle.Render(fmt.Sprintf("  %d. %s", i+1, q)) + "\n")
		}
	}
	return b.String()
}

func (m *tuiModel) bubbleWidth() int {
	w := m.viewport.Width * 3 / 4
	return max(w, 20)
}

func (m *tuiModel) renderMessage(i int) string {
	msg := m.messages[i]
	width := m.bubbleWidth()
	selected := i == m.selected

	var meta []string
	if msg.IsUser {
		meta = append(meta, "You")
	} else {
		meta = append(meta, "AgriBot")
	}
	meta = append(meta, msg.Timestamp)
	if !msg.IsUser {
		if msg.Language != "" && msg.Language != backend.DefaultLanguage {
			meta = append(meta, backend.NativeName(msg.Language))
		}
		if label := msg.ModuleLabel(); label != "" {
			meta = append(meta, label)
		}
		if msg.HasAudio() {
			if m.playing == msg.ID {
				meta = append(meta, "⏹ playing")
			} else {
				meta = append(meta, "🔊")
			}
		}
		if msg.HasEnglish() {
			meta = append(meta, "EN")
		}
		if msg.Translatable() {
			meta = append(meta, "🌐")
		}
	}
	if m.copied == msg.ID {
		meta = append(meta, "✓ copied")
	}

	var body strings.Builder
	body.WriteString(metaStyle.Render(strings.Join(meta, " · ")))
	body.WriteString("\n")
	if msg.IsUser {
		body.WriteString(strings.Join(wrapText(msg.Content, width-4), "\n"))
	} else {
		body.WriteString(m.renderMarkdown(msg.Content, width-4))
		if m.showEnglish[msg.ID] && msg.HasEnglish() {
			body.WriteString("\n\n" + englishStyle.Render(strings.Join(wrapText("English: "+msg.EnglishText, width-4), "\n")))
		}
		if t, ok := m.translations[msg.ID]; ok {
			label := backend.LanguageName(t.lang)
			text := t.text
			if t.loading {
				text = "translating…"
			}
			body.WriteString("\n\n" + translateStyle.Render(strings.Join(wrapText(label+": "+text, width-4), "\n")))
		}
	}

	style := botBubble
	if msg.IsUser {
		style = userBubble
	}
	if selected {
		style = style.BorderForeground(selectedBorder)
	}
	bubble := style.MaxWidth(width).Render(body.String())
	if msg.IsUser {
		return lipgloss.PlaceHorizontal(m.viewport.Width, lipgloss.Right, bubble)
	}
	return bubble
}

func (m *tuiModel) renderMarkdown(content string, width int) string {
	if !m.markdown {
		return strings.Join(wrapText(content, width), "\n")
	}
	if m.md == nil || m.mdWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			m.markdown = false
			return strings.Join(wrapText(content, width), "\n")
		}
		m.md, m.mdWidth = r, width
	}
	out, err := m.md.Render(content)
	if err != nil {
		return strings.Join(wrapText(content, width), "\n")
	}
	return strings.Trim(out, "\n")
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := headerStyle.Render("🌾 AgriBot") + " " + m.statusBadge() +
		dimStyle.Render(" "+backend.LanguageName(m.app.session.Language()))

	var status string
	switch {
	case m.recording:
		status = m.recordingLine()
	case m.notice != nil:
		status = noticeStyle.Render(m.notice.Message) + dimStyle.Render("  (esc)")
	case m.lastReq != "":
		status = dimStyle.Render(m.lastReq)
	}

	return strings.Join([]string{
		truncate(header, m.width),
		m.viewport.View(),
		truncate(status, m.width),
		m.input.View(),
		truncate(m.helpLine(), m.width),
	}, "\n")
}

func (m tuiModel) statusBadge() string {
	switch {
	case m.online == nil:
		return dimStyle.Render("○ connecting")
	case *m.online:
		return onlineStyle.Render("● online")
	default:
		return offlineStyle.Render("● offline")
	}
}

func (m tuiModel) recordingLine() string {
	filled := min(int(m.level*5*meterWidth), meterWidth)
	meter := meterStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", meterWidth-filled))
	line := recStyle.Render(fmt.Sprintf("● REC %.1fs", m.recTime.Seconds())) + " " + meter
	if m.recDevice != "" {
		line += dimStyle.Render(" " + m.recDevice)
		if audio.IsBluetooth(m.recDevice) {
			line += warnStyle.Render(" (BT!)")
		}
	}
	if m.noVoice {
		line += warnStyle.Render("  ⚠ no voice detected")
	}
	return line
}

func (m tuiModel) helpLine() string {
	keys := []struct{ key, desc string }{
		{"enter", "send"},
		{"ctrl+r", "record"},
		{"ctrl+l", "clear"},
		{"↑/↓", "select"},
		{"ctrl+p", "play"},
		{"ctrl+t", "translate"},
		{"ctrl+e", "english"},
		{"ctrl+y", "copy"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k.key) + helpStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, helpStyle.Render(" · "))
}

func requestLine(st backend.RequestStats) string {
	line := fmt.Sprintf("%s %d", st.Op, st.Status)
	if st.Metrics != nil {
		line += fmt.Sprintf(" · %dms", st.Metrics.Sum().Milliseconds())
		if st.Metrics.ConnReused {
			line += " (reused)"
		}
	}
	return line
}

// truncate clips s to width display cells, leaving ANSI styling intact.
func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(s)
}

// wrapText breaks text at spaces so no line exceeds width display cells.
// Words wider than width are split.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		var line strings.Builder
		lineWidth := 0
		start := len(lines)
		for _, word := range strings.Fields(para) {
			w := runewidth.StringWidth(word)
			for w > width {
				if lineWidth > 0 {
					lines = append(lines, line.String())
					line.Reset()
					lineWidth = 0
				}
				head := runewidth.Truncate(word, width, "")
				if head == "" {
					_, size := utf8.DecodeRuneInString(word)
					head = word[:size]
				}
				lines = append(lines, head)
				word = word[len(head):]
				w = runewidth.StringWidth(word)
			}
			if word == "" {
				continue
			}
			if lineWidth > 0 && lineWidth+1+w > width {
				lines = append(lines, line.String())
				line.Reset()
				lineWidth = 0
			}
			if lineWidth > 0 {
				line.WriteByte(' ')
				lineWidth++
			}
			line.WriteString(word)
			lineWidth += w
		}
		if lineWidth > 0 || len(lines) == start {
			lines = append(lines, line.String())
		}
	}
	return lines
}
