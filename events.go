package main

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"agribot/audio"
	"agribot/backend"
	"agribot/chat"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless script driver receive the same session and recording events.
type EventSink interface {
	chat.Listener
	RecordingStart(device string)
	RecordingStop(auto bool)
	RecordingTick(elapsed time.Duration)
	AudioLevel(level float64)
	Silence(ev audio.SilenceEvent)
	PlaybackStart(messageID string)
	PlaybackDone(messageID string, err error)
	Request(stats backend.RequestStats)
}

// TUI message types
type sessionChangedMsg struct {
	Messages []chat.Message
	Pending  bool
}
type noticeMsg struct{ Notice chat.Notice }
type recordingStartMsg struct{ Device string }
type recordingStopMsg struct{ Auto bool }
type recordingTickMsg struct{ Elapsed time.Duration }
type audioLevelMsg struct{ Level float64 }
type silenceMsg struct{ Event audio.SilenceEvent }
type playbackStartMsg struct{ ID string }
type playbackDoneMsg struct {
	ID  string
	Err error
}
type requestMsg struct{ Stats backend.RequestStats }

// programSink forwards events to a tea.Program once one is attached.
// Events sent before Attach are dropped.
type programSink struct {
	mu sync.Mutex
	p  interface{ Send(tea.Msg) }
}

func (s *programSink) Attach(p interface{ Send(tea.Msg) }) {
	s.mu.Lock()
	s.p = p
	s.mu.Unlock()
}

func (s *programSink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.p
	s.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (s *programSink) Changed(msgs []chat.Message, pending bool) {
	s.send(sessionChangedMsg{Messages: msgs, Pending: pending})
}

func (s *programSink) Notice(n chat.Notice)         { s.send(noticeMsg{Notice: n}) }
func (s *programSink) RecordingStart(device string) { s.send(recordingStartMsg{Device: device}) }
func (s *programSink) RecordingStop(auto bool)      { s.send(recordingStopMsg{Auto: auto}) }
func (s *programSink) RecordingTick(elapsed time.Duration) {
	s.send(recordingTickMsg{Elapsed: elapsed})
}
func (s *programSink) AudioLevel(level float64)           { s.send(audioLevelMsg{Level: level}) }
func (s *programSink) Silence(ev audio.SilenceEvent)      { s.send(silenceMsg{Event: ev}) }
func (s *programSink) PlaybackStart(id string)            { s.send(playbackStartMsg{ID: id}) }
func (s *programSink) PlaybackDone(id string, err error)  { s.send(playbackDoneMsg{ID: id, Err: err}) }
func (s *programSink) Request(stats backend.RequestStats) { s.send(requestMsg{Stats: stats}) }
