package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	diagFileName = "diagnostics_log.txt"
	chatFileName = "chat_log.txt"
	crashName    = "crash_log.txt"
	timeLayout   = "2006-01-02 15:04:05"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	chatFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// RequestMetrics is one backend round trip as recorded in the diagnostics log.
type RequestMetrics struct {
	Op         string
	Status     int
	SentBytes  int
	RecvBytes  int
	RequestID  string
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
	TLSProto   string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: AGRIBOT_LOG_PATH environment variable
	if envPath := os.Getenv("AGRIBOT_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// CrashPath is where unrecovered panics are written.
func CrashPath() string {
	return filepath.Join(dir, crashName)
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	chatFile, err = os.OpenFile(filepath.Join(dir, chatFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: timeLayout,
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if chatFile != nil {
		chatFile.Close()
		chatFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Request(m RequestMetrics) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info()
	if m.Status >= 400 {
		ev = diagLog.Warn()
	}
	ev = ev.Str("op", m.Op).
		Int("status", m.Status).
		Str("conn", connStatus)
	if m.TLSProto != "" {
		ev = ev.Str("tls_proto", m.TLSProto)
	}
	if m.RequestID != "" && m.RequestID != "?" {
		ev = ev.Str("request_id", m.RequestID)
	}
	ev.Float64("sent_kb", float64(m.SentBytes)/1024).
		Float64("recv_kb", float64(m.RecvBytes)/1024).
		Float64("dns_ms", m.DNSMs).
		Float64("tls_ms", m.TLSMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("request")
}

func Recording(durationS, sizeKB, encodeMs float64, format, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("format", format).
		Str("device", device).
		Float64("audio_s", durationS).
		Float64("size_kb", sizeKB).
		Float64("encode_ms", encodeMs).
		Msg("recording")
}

// Message appends one chat turn to the transcript file.
func Message(role, lang, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if chatFile == nil {
		return
	}
	if lang == "" {
		lang = "-"
	}
	text = strings.ReplaceAll(text, "\n", " ⏎ ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format(timeLayout), pid, role, lang, text)
	chatFile.WriteString(line)
}

func Notice(kind, msg string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Warn().Str("kind", kind)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(msg)
}

func SessionStart(backendURL, lang, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", backendURL).
		Str("lang", lang).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("messages", count).
		Msg("session_end")
}
