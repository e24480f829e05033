package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"agribot/backend"
	"agribot/chat"
	"agribot/encoder"
)

const (
	DefaultBackendURL = "http://localhost:8000"
	FileName          = "config.toml"
)

// Config is the user-tunable state of the client. Zero Timeout means
// requests wait until the backend answers.
type Config struct {
	BackendURL string        `toml:"backend_url"`
	Language   string        `toml:"language"`
	Format     string        `toml:"format"`
	Timeout    time.Duration `toml:"timeout"`
	Device     string        `toml:"device"`
	AutoStop   bool          `toml:"auto_stop"`
	VADMode    int           `toml:"vad_mode"`
	Sounds     bool          `toml:"sounds"`
	Markdown   bool          `toml:"markdown"`
}

func Default() Config {
	return Config{
		BackendURL: DefaultBackendURL,
		Language:   backend.DefaultLanguage,
		Format:     encoder.FormatWebm,
		VADMode:    3,
		Sounds:     true,
		Markdown:   true,
	}
}

// Dir returns the per-user config directory, honouring AGRIBOT_CONFIG_DIR.
func Dir() (string, error) {
	if dir := os.Getenv("AGRIBOT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "agribot"), nil
}

// Path is the default config file location.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load builds the effective configuration: defaults, then the TOML file at
// path (the default location when empty; a missing file is not an error),
// then a .env file in the working directory, then AGRIBOT_* variables.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := Path()
		if err == nil {
			path = p
		}
	}
	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadFile decodes a TOML file over cfg. Keys the file omits keep their
// current values; unknown keys are rejected.
func LoadFile(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from the environment:
//   - AGRIBOT_BACKEND_URL
//   - AGRIBOT_LANG
//   - AGRIBOT_FORMAT
//   - AGRIBOT_TIMEOUT (Go duration, or plain seconds)
//   - AGRIBOT_DEVICE
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("AGRIBOT_BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("AGRIBOT_LANG"); v != "" {
		c.Language = v
	}
	if v := os.Getenv("AGRIBOT_FORMAT"); v != "" {
		c.Format = v
	}
	if v := os.Getenv("AGRIBOT_TIMEOUT"); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return fmt.Errorf("AGRIBOT_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("AGRIBOT_DEVICE"); v != "" {
		c.Device = v
	}
	return nil
}

// ParseTimeout accepts "30s"-style durations or a bare number of seconds.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", s)
	}
	return d, nil
}

// Validate normalizes the language code and rejects values the client
// cannot act on.
func (c *Config) Validate() error {
	var errs []error

	if _, err := backend.ParseBaseURL(c.BackendURL); err != nil {
		errs = append(errs, fmt.Errorf("backend_url: %w", err))
	}

	c.Language = backend.NormalizeLanguage(c.Language)
	if !chat.HasGreeting(c.Language) {
		errs = append(errs, fmt.Errorf("language: unsupported %q", c.Language))
	}

	if c.Format == "" {
		c.Format = encoder.FormatWebm
	}
	if !slices.Contains(encoder.Formats(), c.Format) {
		errs = append(errs, fmt.Errorf("format: %q not one of %s", c.Format, strings.Join(encoder.Formats(), ", ")))
	}

	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout: negative %s", c.Timeout))
	}
	if c.VADMode < 0 || c.VADMode > 3 {
		errs = append(errs, fmt.Errorf("vad_mode: %d out of range [0, 3]", c.VADMode))
	}

	return errors.Join(errs...)
}

// Save writes cfg as TOML, creating the directory if needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
