// Package logging configures zerolog for the dosecore binaries and adapts it
// to the service's key/value Logger interface.
package logging

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dosecore/internal/core"
)

const (
	EnvLogLevel     = "DOSECORE_LOG_LEVEL"
	EnvLogTimestamp = "DOSECORE_LOG_TIMESTAMP"
	EnvLogNoColor   = "DOSECORE_LOG_NOCOLOR"
	EnvLogFormat    = "DOSECORE_LOG_FORMAT"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Format selects the output encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Format    Format
}

var configureOnce sync.Once

// Configure installs the process-wide logger for profile once, applying the
// environment overrides, and returns it.
func Configure(profile Profile) zerolog.Logger {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		cfg.ApplyEnv(os.LookupEnv)
		log.Logger = New(os.Stderr, cfg)
	})
	return log.Logger
}

func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, Format: FormatConsole}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true, Format: FormatConsole}
	}
}

// Overlay applies file settings. Empty or nil values keep the current ones.
func (c *Config) Overlay(level string, timestamp, noColor *bool) {
	if lvl, ok := ParseLevel(level); ok {
		c.Level = lvl
	}
	if timestamp != nil {
		c.Timestamp = *timestamp
	}
	if noColor != nil {
		c.NoColor = *noColor
	}
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}
	if lvl, ok := ParseLevel(get(EnvLogLevel)); ok {
		c.Level = lvl
	}
	if v, ok := parseBool(get(EnvLogTimestamp)); ok {
		c.Timestamp = v
	}
	if v, ok := parseBool(get(EnvLogNoColor)); ok {
		c.NoColor = v
	}
	switch Format(strings.ToLower(strings.TrimSpace(get(EnvLogFormat)))) {
	case FormatJSON:
		c.Format = FormatJSON
	case FormatConsole:
		c.Format = FormatConsole
	}
}

// New builds a logger writing to w.
func New(w io.Writer, cfg Config) zerolog.Logger {
	out := w
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

var _ core.Logger = Adapter{}

// Adapter satisfies core.Logger on top of a zerolog.Logger. Arguments are
// alternating key/value pairs; a trailing key without a value is dropped.
type Adapter struct {
	log zerolog.Logger
}

func NewAdapter(l zerolog.Logger) Adapter { return Adapter{log: l} }

func (a Adapter) Debug(msg string, args ...any) { emit(a.log.Debug(), msg, args) }
func (a Adapter) Info(msg string, args ...any)  { emit(a.log.Info(), msg, args) }
func (a Adapter) Warn(msg string, args ...any)  { emit(a.log.Warn(), msg, args) }
func (a Adapter) Error(msg string, args ...any) { emit(a.log.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	if len(args)%2 == 1 {
		args = args[:len(args)-1]
	}
	ev.Fields(args).Msg(msg)
}

var _ core.AuditRecorder = AuditRecorder{}

// AuditRecorder writes audit entries as structured log lines. Failed
// operations are logged at warn level.
type AuditRecorder struct {
	log zerolog.Logger
}

func NewAuditRecorder(l zerolog.Logger) AuditRecorder { return AuditRecorder{log: l} }

func (r AuditRecorder) Record(_ context.Context, e core.AuditEntry) {
	ev := r.log.Info()
	if e.Status == core.AuditStatusError {
		ev = r.log.Warn()
	}
	if ev == nil {
		return
	}
	ev = ev.Str("operation", e.Operation).
		Str("entity", string(e.Entity)).
		Str("action", string(e.Action)).
		Str("status", string(e.Status)).
		Dur("duration", e.Duration).
		Time("at", e.Timestamp)
	if e.EntityID != "" {
		ev = ev.Str("entity_id", e.EntityID)
	}
	if e.Version > 0 {
		ev = ev.Int("version", e.Version)
	}
	if e.ValidationHash != "" {
		ev = ev.Str("validation_hash", e.ValidationHash)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg("audit")
}
