package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"agribot/audio"
	"agribot/backend"
	"agribot/chat"
)

const scriptWaitTimeout = 2 * time.Minute

// scriptSink prints notices and recording events for the headless driver.
// Message updates are not echoed; DUMP prints the log on demand.
type scriptSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *scriptSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *scriptSink) Changed([]chat.Message, bool) {}
func (s *scriptSink) Notice(n chat.Notice) {
	s.printf("NOTICE %s %s\n", n.Kind, n.Message)
}
func (s *scriptSink) RecordingStart(device string)  { s.printf("RECORDING %s\n", device) }
func (s *scriptSink) RecordingStop(auto bool)       { s.printf("STOPPED auto=%t\n", auto) }
func (s *scriptSink) RecordingTick(time.Duration)   {}
func (s *scriptSink) AudioLevel(float64)            {}
func (s *scriptSink) Silence(ev audio.SilenceEvent) { s.printf("SILENCE %s\n", ev) }
func (s *scriptSink) PlaybackStart(string)          {}
func (s *scriptSink) PlaybackDone(string, error)    {}
func (s *scriptSink) Request(backend.RequestStats)  {}

// scriptRunner drives the app from line commands on stdin:
//
//	SAY <text>            submit typed text
//	RECORD <wav>          record a 16kHz mono WAV through the fake microphone and submit it
//	WAIT                  block until the last turn finishes
//	CLEAR                 reset the chat
//	TRANSLATE <n> <lang>  translate message n (1-based, as numbered by DUMP)
//	DUMP                  print the log, one message per line, then END
//	SLEEP <ms>
//	QUIT
type scriptRunner struct {
	app  *app
	mic  *audio.FakeContext
	sink *scriptSink
	last *chat.Turn
}

func (r *scriptRunner) Run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)

		switch strings.ToUpper(cmd) {
		case "SAY":
			turn, err := r.app.Submit(arg)
			r.track(turn, err)
		case "RECORD":
			r.record(arg)
		case "WAIT":
			r.wait()
		case "CLEAR":
			r.app.Clear()
			r.last = nil
		case "TRANSLATE":
			r.translate(arg)
		case "DUMP":
			r.dump()
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return nil
		default:
			r.sink.printf("ERROR unknown command %q\n", cmd)
		}
	}
	return scanner.Err()
}

func (r *scriptRunner) track(turn *chat.Turn, err error) {
	if err != nil {
		r.sink.printf("ERROR %v\n", err)
		return
	}
	if turn != nil {
		r.last = turn
	}
}

func (r *scriptRunner) record(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.sink.printf("ERROR %v\n", err)
		return
	}
	if len(data) > audio.WAVHeaderSize {
		data = data[audio.WAVHeaderSize:]
	}
	r.mic.SetPCM(data)

	if err := r.app.StartRecording(); err != nil {
		r.sink.printf("ERROR %v\n", err)
		return
	}
	turn, err := r.app.ToggleRecording()
	r.track(turn, err)
}

func (r *scriptRunner) wait() {
	if r.last == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), scriptWaitTimeout)
	defer cancel()
	if err := r.last.Wait(ctx); err != nil {
		r.sink.printf("ERROR %v\n", err)
		return
	}
	r.sink.printf("DONE %s\n", r.last.Outcome())
}

func (r *scriptRunner) translate(arg string) {
	nStr, lang, _ := strings.Cut(arg, " ")
	n, err := strconv.Atoi(nStr)
	msgs := r.app.session.Messages()
	if err != nil || n < 1 || n > len(msgs) {
		r.sink.printf("ERROR no message %q\n", nStr)
		return
	}
	text, err := r.app.Translate(msgs[n-1].ID, strings.TrimSpace(lang))
	if err != nil {
		r.sink.printf("ERROR %v\n", err)
		return
	}
	r.sink.printf("TRANSLATION %s %s\n", strings.TrimSpace(lang), oneLine(text))
}

func (r *scriptRunner) dump() {
	for i, m := range r.app.session.Messages() {
		role := "bot"
		if m.IsUser {
			role = "user"
		}
		lang := m.Language
		if lang == "" {
			lang = "-"
		}
		r.sink.printf("%d\t%s\t%s\t%s\n", i+1, role, lang, oneLine(m.Content))
	}
	r.sink.printf("END pending=%t\n", r.app.session.Pending())
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ⏎ ")
}
