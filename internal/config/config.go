// Package config loads runtime settings from an optional YAML file overlaid
// with NUDGE_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/dukerupert/nudge/internal/gate"
	"github.com/dukerupert/nudge/internal/push"
)

// Config is the resolved, validated configuration.
type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	SecretKey string

	Push      push.Config
	Scheduler push.SchedulerConfig

	PushConcurrency int
	WSOrigins       []string
	RateLimit       int // write requests per minute per user
	RateBurst       int
}

// file mirrors the YAML layout. Durations are Go duration strings.
type file struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	SecretKey string `yaml:"secret_key"`
	Log       struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Push struct {
		VAPIDPublicKey  string `yaml:"vapid_public_key"`
		VAPIDPrivateKey string `yaml:"vapid_private_key"`
		Subject         string `yaml:"subject"`
		TTL             string `yaml:"ttl"`
		Timeout         string `yaml:"timeout"`
		Concurrency     int    `yaml:"concurrency"`
	} `yaml:"push"`
	Scheduler struct {
		Interval         string `yaml:"interval"`
		Budget           string `yaml:"budget"`
		PageSize         int    `yaml:"page_size"`
		ReminderInterval string `yaml:"reminder_interval"`
		DigestTolerance  string `yaml:"digest_tolerance"`
	} `yaml:"scheduler"`
	HTTP struct {
		WSOrigins []string `yaml:"ws_origins"`
		RateLimit int      `yaml:"rate_limit"`
		RateBurst int      `yaml:"rate_burst"`
	} `yaml:"http"`
}

func defaults() file {
	var f file
	f.Port = "8080"
	f.DBPath = "nudge.db"
	f.Log.Level = "info"
	f.Log.Format = "text"
	f.Push.Subject = "mailto:admin@localhost"
	f.Push.TTL = "12h"
	f.Push.Timeout = "10s"
	f.Push.Concurrency = 4
	f.Scheduler.Interval = "5m"
	f.Scheduler.Budget = "250s"
	f.Scheduler.PageSize = 100
	f.HTTP.RateLimit = 60
	f.HTTP.RateBurst = 20
	return f
}

// Load reads path (skipped when empty), applies environment overrides from
// getenv and validates the result.
func Load(path string, getenv func(string) string) (*Config, error) {
	f := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&f, getenv); err != nil {
		return nil, err
	}
	cfg, err := f.resolve()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so typos surface at startup.
func decodeYAML(data []byte, f *file) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(f *file, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}

	str("NUDGE_PORT", &f.Port)
	str("NUDGE_DB_PATH", &f.DBPath)
	str("NUDGE_LOG_LEVEL", &f.Log.Level)
	str("NUDGE_LOG_FORMAT", &f.Log.Format)
	str("NUDGE_SECRET_KEY", &f.SecretKey)
	str("NUDGE_VAPID_PUBLIC_KEY", &f.Push.VAPIDPublicKey)
	str("NUDGE_VAPID_PRIVATE_KEY", &f.Push.VAPIDPrivateKey)
	str("NUDGE_VAPID_SUBJECT", &f.Push.Subject)
	str("NUDGE_PUSH_TTL", &f.Push.TTL)
	str("NUDGE_TICK_INTERVAL", &f.Scheduler.Interval)
	str("NUDGE_TICK_BUDGET", &f.Scheduler.Budget)
	if v := strings.TrimSpace(getenv("NUDGE_WS_ORIGINS")); v != "" {
		f.HTTP.WSOrigins = splitList(v)
	}

	for key, dst := range map[string]*int{
		"NUDGE_USER_PAGE_SIZE":   &f.Scheduler.PageSize,
		"NUDGE_PUSH_CONCURRENCY": &f.Push.Concurrency,
		"NUDGE_RATE_LIMIT":       &f.HTTP.RateLimit,
		"NUDGE_RATE_BURST":       &f.HTTP.RateBurst,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (f file) resolve() (*Config, error) {
	cfg := &Config{
		Port:            f.Port,
		DBPath:          f.DBPath,
		LogLevel:        f.Log.Level,
		LogFormat:       f.Log.Format,
		SecretKey:       f.SecretKey,
		PushConcurrency: f.Push.Concurrency,
		WSOrigins:       f.HTTP.WSOrigins,
		RateLimit:       f.HTTP.RateLimit,
		RateBurst:       f.HTTP.RateBurst,
		Push: push.Config{
			VAPIDPublicKey:  f.Push.VAPIDPublicKey,
			VAPIDPrivateKey: f.Push.VAPIDPrivateKey,
			Subscriber:      f.Push.Subject,
		},
		Scheduler: push.SchedulerConfig{PageSize: f.Scheduler.PageSize},
	}

	var err error
	durations := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"push.ttl", f.Push.TTL, 12 * time.Hour, &cfg.Push.TTL},
		{"push.timeout", f.Push.Timeout, 10 * time.Second, &cfg.Push.Timeout},
		{"scheduler.interval", f.Scheduler.Interval, 5 * time.Minute, &cfg.Scheduler.Interval},
		{"scheduler.budget", f.Scheduler.Budget, 250 * time.Second, &cfg.Scheduler.Budget},
		{"scheduler.reminder_interval", f.Scheduler.ReminderInterval, gate.ReminderInterval, &cfg.Scheduler.ReminderInterval},
		{"scheduler.digest_tolerance", f.Scheduler.DigestTolerance, gate.DigestTolerance, &cfg.Scheduler.DigestTolerance},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDurationOrDefault(d.path, d.raw, d.def); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("push: vapid_public_key and vapid_private_key must be set together"))
	}
	if c.Scheduler.Budget > c.Scheduler.Interval {
		errs = append(errs, fmt.Errorf("scheduler: budget %s exceeds interval %s", c.Scheduler.Budget, c.Scheduler.Interval))
	}
	if c.Scheduler.PageSize < 1 {
		errs = append(errs, errors.New("scheduler: page_size must be at least 1"))
	}
	if c.PushConcurrency < 1 {
		errs = append(errs, errors.New("push: concurrency must be at least 1"))
	}
	if c.RateLimit < 1 || c.RateBurst < 1 {
		errs = append(errs, errors.New("http: rate_limit and rate_burst must be at least 1"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ParseDurationOrDefault parses raw as a Go duration, returning def when raw
// is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
