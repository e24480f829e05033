package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"agribot/audio"
	"agribot/backend"
	"agribot/beep"
	"agribot/clipboard"
)

// Config wires the checks to real or fake collaborators. Nil In/Out
// default to stdin/stdout.
type Config struct {
	Client    backend.Client
	BaseURL   string
	Audio     audio.Context // nil skips the microphone check
	Output    audio.Output  // nil skips the speaker check
	Device    *audio.DeviceInfo
	Format    string
	RecordFor time.Duration
	Timeout   time.Duration
	// SkipClipboard leaves the system clipboard untouched.
	SkipClipboard bool
	In            io.Reader
	Out           io.Writer
}

type doctor struct {
	cfg Config
	in  *bufio.Reader
	out io.Writer
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg Config) int {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.In == nil {
		stop := guardTerminal(cfg.Out)
		defer stop()
		cfg.In = os.Stdin
	}
	if cfg.RecordFor <= 0 {
		cfg.RecordFor = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := &doctor{cfg: cfg, in: bufio.NewReader(cfg.In), out: cfg.Out}

	d.println("agribot doctor - system diagnostics")
	d.println("===================================")

	checks := []struct {
		name string
		fn   func() bool
	}{
		{"Backend", d.checkBackend},
		{"Chat round trip", d.checkChat},
		{"Microphone and transcription", d.checkMicrophone},
		{"Speaker", d.checkSpeaker},
		{"Clipboard", d.checkClipboard},
	}

	allPass := true
	for i, c := range checks {
		d.println()
		d.printf("[%d/%d] %s\n", i+1, len(checks), c.name)
		if !c.fn() {
			allPass = false
			// Nothing downstream works without the backend.
			if i == 0 {
				break
			}
		}
	}

	d.println()
	if allPass {
		d.println("All checks passed!")
		return 0
	}
	d.println("Some checks failed. See details above.")
	return 1
}

func (d *doctor) println(a ...any)               { fmt.Fprintln(d.out, a...) }
func (d *doctor) printf(format string, a ...any) { fmt.Fprintf(d.out, format, a...) }

func (d *doctor) confirm(question string) bool {
	d.printf("%s [y/n]: ", question)
	answer, _ := d.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *doctor) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.cfg.Timeout)
}

func (d *doctor) checkBackend() bool {
	if d.cfg.BaseURL != "" {
		d.printf("  url: %s\n", d.cfg.BaseURL)
	}
	ctx, cancel := d.context()
	defer cancel()

	start := time.Now()
	if err := d.cfg.Client.Ping(ctx); err != nil {
		d.printf("  FAIL: %v\n", err)
		if errors.Is(err, backend.ErrUnavailable) {
			d.println("  Is the AgriBot backend running? Set AGRIBOT_BACKEND_URL or -backend.")
		}
		return false
	}
	d.printf("  PASS: ping answered in %dms\n", time.Since(start).Milliseconds())
	return true
}

func (d *doctor) checkChat() bool {
	ctx, cancel := d.context()
	defer cancel()

	reply, err := d.cfg.Client.Chat(ctx, "hello")
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	if strings.TrimSpace(reply.Response) == "" {
		d.println("  FAIL: empty response")
		return false
	}
	d.printf("  PASS: reply in %q (%d chars)\n", reply.Language, len([]rune(reply.Response)))
	return true
}

func (d *doctor) checkMicrophone() bool {
	if d.cfg.Audio == nil {
		d.println("  SKIP: no audio context")
		return true
	}

	var (
		peakMu sync.Mutex
		peak   float64
	)
	rec := audio.NewRecorder(d.cfg.Audio, audio.RecorderConfig{
		Device:  d.cfg.Device,
		Format:  d.cfg.Format,
		VADMode: audio.DefaultVADMode,
		OnLevel: func(rms float64) {
			peakMu.Lock()
			peak = max(peak, rms)
			peakMu.Unlock()
		},
	})
	defer rec.Release()

	d.printf("Speak for %.0f seconds after pressing Enter...", d.cfg.RecordFor.Seconds())
	d.in.ReadString('\n')

	r, err := rec.Start()
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	d.printf("  Recording from %s", r.DeviceName())
	deadline := time.After(d.cfg.RecordFor)
	ticker := time.NewTicker(500 * time.Millisecond)
wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-r.AutoStopped():
			break wait
		case <-ticker.C:
			d.printf(".")
		}
	}
	ticker.Stop()
	voice := r.VoiceDetected()
	blob, err := rec.Stop(r)
	d.println(" done")
	if err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	if blob.Empty() || blob.TooShort() {
		d.println("  FAIL: no audio captured")
		return false
	}
	peakMu.Lock()
	d.printf("  Captured %.1fs, %.1f KB %s, peak level %.3f\n",
		blob.Duration.Seconds(), float64(len(blob.Data))/1024, blob.MimeType, peak)
	peakMu.Unlock()
	if !voice {
		d.println("  Warning: no voice detected, check input gain or device")
	}

	ctx, cancel := d.context()
	defer cancel()
	tr, err := d.cfg.Client.Transcribe(ctx, blob.Data, blob.MimeType)
	if err != nil {
		d.printf("  FAIL: transcription error: %v\n", err)
		return false
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	d.printf("\n  Transcribed text: %s\n\n", text)

	if d.confirm("Is this correct?") {
		d.println("  PASS: transcription verified by user")
		return true
	}
	d.println("  FAIL: transcription not confirmed")
	return false
}

func (d *doctor) checkSpeaker() bool {
	if d.cfg.Output == nil {
		d.println("  SKIP: no output device")
		return true
	}
	ctx, cancel := d.context()
	defer cancel()
	if err := d.cfg.Output.Play(ctx, beep.DoubleBeep(660, 0.15, 0.1, 0.5, 10)); err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	if d.confirm("Did you hear two beeps?") {
		d.println("  PASS: playback verified by user")
		return true
	}
	d.println("  FAIL: playback not confirmed")
	return false
}

func (d *doctor) checkClipboard() bool {
	if d.cfg.SkipClipboard {
		d.println("  SKIP")
		return true
	}
	if !clipboard.Supported() {
		d.println("  SKIP: no clipboard utility (install xclip, xsel or wl-clipboard to copy answers)")
		return true
	}
	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)

	const sentinel = "agribot-doctor-check"
	if err := clipboard.Copy(sentinel); err != nil {
		d.printf("  FAIL: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		d.printf("  FAIL: read back: %v\n", err)
		return false
	}
	if got != sentinel {
		d.printf("  FAIL: read back %q, want %q\n", got, sentinel)
		return false
	}
	d.println("  PASS: copy and read back")
	return true
}
