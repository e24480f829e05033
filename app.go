package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agribot/audio"
	"agribot/backend"
	"agribot/beep"
	"agribot/chat"
	"agribot/config"
	"agribot/log"
)

// appConfig carries the collaborators main builds for the app. Audio and
// Output may be nil when the host has no sound devices.
type appConfig struct {
	Config config.Config
	Client backend.Client
	Audio  audio.Context
	Output audio.Output
	Device *audio.DeviceInfo
	Sink   EventSink
	Now    func() time.Time
}

// app wires the chat session to the microphone, speaker and cues. Both the
// TUI and the headless driver act through it.
type app struct {
	cfg      config.Config
	client   backend.Client
	session  *chat.Session
	recorder *audio.Recorder
	player   *audio.Player
	cues     *beep.Player
	sink     EventSink
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	recording *audio.Recording
	clips     map[string][]byte
	turns     int
	closed    bool
	wg        sync.WaitGroup
}

func newApp(c appConfig) *app {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		cfg:    c.Config,
		client: c.Client,
		sink:   c.Sink,
		ctx:    ctx,
		cancel: cancel,
		clips:  make(map[string][]byte),
	}
	if c.Output != nil {
		a.player = audio.NewPlayer(c.Output)
		a.cues = beep.New(c.Output)
		if !c.Config.Sounds {
			a.cues.Disable()
		}
	}
	a.session = chat.NewSession(c.Client, chat.Options{
		Language:  c.Config.Language,
		Listener:  a,
		OnMessage: a.logMessage,
		Now:       c.Now,
	})
	a.recorder = audio.NewRecorder(c.Audio, audio.RecorderConfig{
		Device:    c.Device,
		Format:    c.Config.Format,
		VADMode:   c.Config.VADMode,
		AutoStop:  c.Config.AutoStop,
		OnLevel:   a.level,
		OnTick:    a.tick,
		OnSilence: a.silence,
	})
	return a
}

// Changed implements chat.Listener.
func (a *app) Changed(msgs []chat.Message, pending bool) {
	if a.sink != nil {
		a.sink.Changed(msgs, pending)
	}
}

// Notice implements chat.Listener.
func (a *app) Notice(n chat.Notice) {
	log.Notice(n.Kind.String(), n.Message, n.Err)
	if n.Kind != chat.NoticeBusy {
		a.cues.PlayError()
	}
	if a.sink != nil {
		a.sink.Notice(n)
	}
}

func (a *app) logMessage(m chat.Message) {
	role := "assistant"
	if m.IsUser {
		role = "user"
		a.mu.Lock()
		a.turns++
		a.mu.Unlock()
	}
	log.Message(role, m.Language, m.Content)
}

func (a *app) level(rms float64) {
	if a.sink != nil {
		a.sink.AudioLevel(rms)
	}
}

func (a *app) tick(elapsed time.Duration) {
	if a.sink != nil {
		a.sink.RecordingTick(elapsed)
	}
}

func (a *app) silence(ev audio.SilenceEvent) {
	log.Info(ev.String())
	switch ev {
	case audio.SilenceWarn, audio.SilenceRepeat:
		a.cues.PlayError()
	}
	if a.sink != nil {
		a.sink.Silence(ev)
	}
}

// onRequest is installed as the backend client's per-request hook.
func (a *app) onRequest(st backend.RequestStats) {
	m := log.RequestMetrics{
		Op:        st.Op,
		Status:    st.Status,
		SentBytes: st.SentBytes,
		RecvBytes: st.RecvBytes,
		RequestID: st.RequestID,
	}
	if st.Metrics != nil {
		m.DNSMs = float64(st.Metrics.DNS.Milliseconds())
		m.TLSMs = float64(st.Metrics.TLS.Milliseconds())
		m.TTFBMs = float64(st.Metrics.TTFB.Milliseconds())
		m.TotalMs = float64(st.Metrics.Sum().Milliseconds())
		m.ConnReused = st.Metrics.ConnReused
		m.TLSProto = st.Metrics.TLSProtocol
	}
	log.Request(m)
	if a.sink != nil {
		a.sink.Request(st)
	}
}

func (a *app) Recording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording != nil
}

// StartRecording acquires the microphone. It is refused while an answer
// is pending. Failures are reported as notices as well as returned.
func (a *app) StartRecording() error {
	if a.session.Pending() {
		a.session.Raise(chat.NewNotice(chat.NoticeBusy, chat.ErrPending))
		return chat.ErrPending
	}
	rec, err := a.recorder.Start()
	if err != nil {
		if errors.Is(err, audio.ErrBusy) {
			return err
		}
		log.Errorf("recording start: %v", err)
		a.session.Raise(chat.NewNotice(chat.NoticeDeviceUnavailable, err))
		return err
	}

	a.mu.Lock()
	a.recording = rec
	a.mu.Unlock()

	log.Info("recording_device: " + rec.DeviceName())
	a.cues.PlayStart()
	if a.sink != nil {
		a.sink.RecordingStart(rec.DeviceName())
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-rec.AutoStopped():
			a.StopRecording(rec, true)
		case <-a.ctx.Done():
		}
	}()
	return nil
}

// StopRecording finalizes rec and submits it for transcription. It returns
// a nil turn when rec was already stopped or the clip is too short to send.
func (a *app) StopRecording(rec *audio.Recording, auto bool) (*chat.Turn, error) {
	a.mu.Lock()
	if rec == nil || a.recording != rec {
		a.mu.Unlock()
		return nil, nil
	}
	a.recording = nil
	a.mu.Unlock()

	blob, err := a.recorder.Stop(rec)
	a.cues.PlayEnd()
	if a.sink != nil {
		a.sink.RecordingStop(auto)
	}
	if err != nil {
		log.Errorf("recording stop: %v", err)
		a.session.Raise(chat.NewNotice(chat.NoticeDeviceUnavailable, err))
		return nil, err
	}

	log.Recording(blob.Duration.Seconds(), float64(len(blob.Data))/1024,
		float64(blob.EncodeTime.Milliseconds()), a.cfg.Format, rec.DeviceName())
	if blob.Empty() || blob.TooShort() {
		log.Infof("recording_too_short: %s", blob.Duration)
		return nil, nil
	}

	turn, err := a.session.SubmitAudio(a.ctx, blob.Data, blob.MimeType)
	if errors.Is(err, chat.ErrPending) {
		a.session.Raise(chat.NewNotice(chat.NoticeBusy, err))
	}
	return turn, err
}

// ToggleRecording starts a recording, or stops and submits the active one.
func (a *app) ToggleRecording() (*chat.Turn, error) {
	a.mu.Lock()
	rec := a.recording
	a.mu.Unlock()
	if rec != nil {
		return a.StopRecording(rec, false)
	}
	return nil, a.StartRecording()
}

// Submit sends typed text. Empty input is silently ignored.
func (a *app) Submit(text string) (*chat.Turn, error) {
	turn, err := a.session.SubmitText(a.ctx, text)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return nil, nil
	case errors.Is(err, chat.ErrPending):
		a.session.Raise(chat.NewNotice(chat.NoticeBusy, err))
	}
	return turn, err
}

func (a *app) Clear() {
	if a.player != nil {
		a.player.Stop()
	}
	a.session.Clear()
	log.Info("chat_cleared")
}

// Translate renders message id in lang without touching the log.
func (a *app) Translate(id, lang string) (string, error) {
	return a.session.Translate(a.ctx, id, lang)
}

// TogglePlayback plays the speech clip of message id, or stops it when it
// is already playing. Clips are downloaded once per message.
func (a *app) TogglePlayback(id string) error {
	if a.player == nil {
		err := fmt.Errorf("%w: no output device", audio.ErrPlayback)
		a.session.Raise(chat.NewNotice(chat.NoticePlaybackFailed, err))
		return err
	}
	if a.player.Playing() == id {
		a.player.Stop()
		return nil
	}

	m, ok := a.session.Store().Find(id)
	if !ok || !m.HasAudio() {
		return fmt.Errorf("%w: %s has no audio", chat.ErrUnknownMessage, id)
	}

	data, err := a.clip(m)
	if err == nil {
		if a.sink != nil {
			a.sink.PlaybackStart(id)
		}
		err = a.player.Play(id, data, func(err error) {
			if err != nil {
				a.session.Raise(chat.NewNotice(chat.NoticePlaybackFailed, err))
			}
			if a.sink != nil {
				a.sink.PlaybackDone(id, err)
			}
		})
		if err != nil && a.sink != nil {
			a.sink.PlaybackDone(id, err)
		}
	}
	if err != nil {
		log.Errorf("playback %s: %v", id, err)
		a.session.Raise(chat.NewNotice(chat.NoticePlaybackFailed, err))
		return err
	}
	return nil
}

func (a *app) clip(m chat.Message) ([]byte, error) {
	a.mu.Lock()
	data, ok := a.clips[m.ID]
	a.mu.Unlock()
	if ok {
		return data, nil
	}
	data, err := a.client.FetchAudio(a.ctx, m.AudioURL)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.clips[m.ID] = data
	a.mu.Unlock()
	return data, nil
}

// Close releases the microphone and speaker and ends the log session.
func (a *app) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	turns := a.turns
	a.recording = nil
	a.mu.Unlock()

	a.cancel()
	a.recorder.Release()
	if a.player != nil {
		a.player.Stop()
	}
	a.cues.Wait()
	a.wg.Wait()
	log.SessionEnd(turns)
}
