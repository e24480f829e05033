package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"agribot/audio"
	"agribot/backend"
	"agribot/config"
	"agribot/doctor"
	"agribot/encoder"
	"agribot/log"
	"agribot/shutdown"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

type flagValues struct {
	configPath string
	backendURL string
	lang       string
	format     string
	timeout    time.Duration
	device     string
	logPath    string
	noBeep     bool
	plain      bool
	autoStop   bool
	setup      bool
	doctor     bool
	script     bool
	initConfig bool
	version    bool
}

func parseFlags(args []string) (*flag.FlagSet, flagValues, error) {
	var f flagValues
	fs := flag.NewFlagSet("agribot", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "config file (default: <user config dir>/agribot/config.toml)")
	fs.StringVar(&f.backendURL, "backend", "", "AgriBot backend base URL (default "+config.DefaultBackendURL+")")
	fs.StringVar(&f.lang, "lang", "", "greeting language: en, hi, bn, te, mr, ta, gu, kn, ml, pa")
	fs.StringVar(&f.format, "format", "", "recording format: "+strings.Join(encoder.Formats(), " or "))
	fs.DurationVar(&f.timeout, "timeout", 0, "per-request timeout, 0 waits indefinitely")
	fs.StringVar(&f.device, "device", "", "use the named microphone")
	fs.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.BoolVar(&f.noBeep, "nobeep", false, "disable recording sounds")
	fs.BoolVar(&f.plain, "plain", false, "show answers as plain text instead of Markdown")
	fs.BoolVar(&f.autoStop, "autostop", false, "stop recording after 30s without speech")
	fs.BoolVar(&f.setup, "setup", false, "select microphone device interactively")
	fs.BoolVar(&f.doctor, "doctor", false, "run system diagnostics and exit")
	fs.BoolVar(&f.script, "script", false, "headless mode: read commands from stdin (see -help)")
	fs.BoolVar(&f.initConfig, "init-config", false, "write the effective configuration to the config file and exit")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	err := fs.Parse(args)
	return fs, f, err
}

// applyFlags overrides cfg with flags given explicitly on the command line.
func applyFlags(fs *flag.FlagSet, f flagValues, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "backend":
			cfg.BackendURL = f.backendURL
		case "lang":
			cfg.Language = f.lang
		case "format":
			cfg.Format = f.format
		case "timeout":
			cfg.Timeout = f.timeout
		case "device":
			cfg.Device = f.device
		case "nobeep":
			cfg.Sounds = !f.noBeep
		case "plain":
			cfg.Markdown = !f.plain
		case "autostop":
			cfg.AutoStop = f.autoStop
		}
	})
}

func run(args []string) int {
	fs, f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.version {
		fmt.Printf("agribot %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(f.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	if crashFile, err := os.OpenFile(log.CrashPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
		crashFile.Close()
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config: %v\n", err)
		return 1
	}
	applyFlags(fs, f, &cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if f.initConfig {
		path := f.configPath
		if path == "" {
			if path, err = config.Path(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
		}
		if err := config.Save(cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Wrote %s\n", path)
		return 0
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	var hooks shutdown.Hooks
	hooks.Add(log.Close)
	defer hooks.Run()
	log.SessionStart(cfg.BackendURL, cfg.Language, cfg.Format)

	var a *app
	client, err := backend.NewHTTPClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.Timeout,
		OnRequest: func(st backend.RequestStats) {
			if a != nil {
				a.onRequest(st)
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if f.script {
		mic := audio.NewFakeContextPCM(nil, false)
		sink := &scriptSink{out: os.Stdout}
		a = newApp(appConfig{Config: cfg, Client: client, Audio: mic, Sink: sink})
		hooks.Add(a.Close)
		r := &scriptRunner{app: a, mic: mic, sink: sink}
		if err := r.Run(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Warnf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: no audio (%v); voice input disabled\n", err)
		audioCtx = nil
	} else {
		hooks.Add(audioCtx.Close)
	}
	output, err := audio.NewOutput()
	if err != nil {
		log.Warnf("audio output init error: %v", err)
		output = nil
	} else {
		hooks.Add(output.Close)
	}

	device, err := pickDevice(audioCtx, cfg.Device, f.setup)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: %v; using system default microphone\n", err)
	}

	if f.doctor {
		return doctor.Run(doctor.Config{
			Client:  client,
			BaseURL: client.BaseURL(),
			Audio:   audioCtx,
			Output:  output,
			Device:  device,
			Format:  cfg.Format,
			Timeout: cfg.Timeout,
		})
	}

	sink := &programSink{}
	a = newApp(appConfig{
		Config: cfg,
		Client: client,
		Audio:  audioCtx,
		Output: output,
		Device: device,
		Sink:   sink,
	})
	hooks.Add(a.Close)

	go func() {
		d := client.Warm(a.ctx)
		log.Infof("backend_warm: %dms", d.Milliseconds())
	}()

	p := NewTUIProgram(a)
	sink.Attach(p)

	sigCtx, stopSignals := context.WithCancel(context.Background())
	defer stopSignals()
	shutdown.OnSignal(sigCtx, func(sig os.Signal) {
		log.Info("signal: " + sig.String())
		p.Quit()
	})

	if _, err := p.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// pickDevice resolves -setup and -device into a capture device. A nil
// device means the system default.
func pickDevice(ctx audio.Context, name string, setup bool) (*audio.DeviceInfo, error) {
	if ctx == nil {
		return nil, nil
	}
	if setup {
		dev, err := audio.SelectDevice(ctx)
		if errors.Is(err, audio.ErrSelectionCancelled) {
			return nil, nil
		}
		return dev, err
	}
	if name != "" {
		return audio.FindDevice(ctx, name)
	}
	return nil, nil
}
