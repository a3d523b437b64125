package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"
)

// Provider holds the application configuration and allows for atomic updates.
type Provider struct {
	value atomic.Value // Holds the current *Config
}

// NewProvider creates a new configuration provider with the initial config.
// It panics if the initialConfig is nil.
func NewProvider(c *Config) *Provider {
	if c == nil {
		panic("initial config cannot be nil")
	}
	p := &Provider{}
	p.value.Store(c)
	return p
}

// Get returns the current configuration snapshot.
// It's safe for concurrent use.
func (p *Provider) Get() *Config {
	return p.value.Load().(*Config)
}

// Update atomically swaps the current configuration with the new one.
// The caller is responsible for ensuring newConfig is not nil.
func (p *Provider) Update(newConfig *Config) {
	p.value.Store(newConfig)
}

// Duration wraps time.Duration so it round-trips through TOML as a
// human string ("10s", "5m") rather than a raw nanosecond integer.
type Duration struct {
	Duration time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// LogLevel wraps slog.Level for TOML text marshaling ("info", "debug").
type LogLevel struct {
	Level slog.Level
}

func (l LogLevel) MarshalText() ([]byte, error) {
	return []byte(l.Level.String()), nil
}

func (l *LogLevel) UnmarshalText(text []byte) error {
	var level slog.Level
	if err := level.UnmarshalText(text); err != nil {
		return fmt.Errorf("config: invalid log level %q: %w", text, err)
	}
	l.Level = level
	return nil
}

// Regexp wraps *regexp.Regexp for TOML text marshaling. An empty
// string unmarshals to a nil Regexp rather than an error, since most
// Regexp-typed fields guard an optional feature.
type Regexp struct {
	Regexp *regexp.Regexp
}

func (r Regexp) MarshalText() ([]byte, error) {
	if r.Regexp == nil {
		return []byte{}, nil
	}
	return []byte(r.Regexp.String()), nil
}

func (r *Regexp) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		r.Regexp = nil
		return nil
	}
	compiled, err := regexp.Compile(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid regexp %q: %w", text, err)
	}
	r.Regexp = compiled
	return nil
}

// Controller holds the knobs for the verification engine's worker pool
// and the SMTP probe it drives.
type Controller struct {
	// ThreadNum is the fixed worker pool size (default 4).
	ThreadNum int
	// PingFreq is how often an active worker heartbeats its slot.
	PingFreq Duration
	// MXDomain is the EHLO/HELO identity the probe presents to MX hosts.
	MXDomain string
	// EMDomain is the domain MAIL FROM addresses are minted under.
	EMDomain string
	// RestartAfter is how long an idle worker goroutine runs before the
	// controller recycles it.
	RestartAfter Duration
	// Timeout is the base socket timeout for an SMTP probe connection.
	Timeout Duration
	// SMTPPort is the port dialed on every MX host, normally 25.
	SMTPPort int
	// SMTPConnectTimeout bounds the TCP dial alone; zero means Timeout
	// covers the dial as well.
	SMTPConnectTimeout Duration
	// MXRaceTimeout bounds the racing A/AAAA/MX DNS resolution.
	MXRaceTimeout Duration
	// ReconnectBudget is how many times the probe retries a dropped
	// connection to the same MX host before giving up.
	ReconnectBudget int
	// RetryPerEmail is how many RCPT attempts a single recipient gets
	// within one probe session.
	RetryPerEmail int
	// QuickCheckBatch bounds how many syntax/role/MX quick checks run
	// concurrently per request.
	QuickCheckBatch int
	// StartTLS lets the probe upgrade a session opportunistically when
	// the MX host advertises the extension.
	StartTLS bool
	// ArchiveCleanupInterval is how often the tiered archive sweep runs.
	ArchiveCleanupInterval Duration
	// ArchiveCompletedTTL is how long a completed request's archive row
	// may outlive its completion before the sweep drops it.
	ArchiveCompletedTTL Duration
	// ArchiveOrphanTTL is how long a non-completed archive row survives
	// before the sweep drops it regardless of status.
	ArchiveOrphanTTL Duration
}

// BatchLogger configures the async slog-to-SQLite batching daemon
// (log/daemon.go, log/batch_handler.go).
type BatchLogger struct {
	Enabled       bool
	ChanSize      int
	FlushSize     int
	FlushInterval Duration
	Level         LogLevel
	DbPath        string
}

// Log groups the engine's operational logging sections.
type Log struct {
	Batch BatchLogger
}

// Discord configures the operational-alert Notifier (notify/discord).
type Discord struct {
	Activated    bool
	WebhookURL   string
	APIRateLimit Duration
	APIBurst     int
	SendTimeout  Duration
}

// Notifier groups the engine's operational-alert backends.
type Notifier struct {
	Discord Discord
}

// Litestream configures continuous WAL backup of the engine's own
// SQLite file (backup/litestream.go).
type Litestream struct {
	Enabled     bool
	ReplicaPath string
	ReplicaName string
}

// Webhook configures delivery-confirmation egress to a Request's
// response_url (notify/webhook).
type Webhook struct {
	MaxAttempts int
	Timeout     Duration
	// BackoffUnit scales the linear retry backoff: attempt N waits
	// N * BackoffUnit, capped at 10s.
	BackoffUnit Duration
}

// CatchAll configures the catch-all verdict cache (catchall package).
type CatchAll struct {
	CacheLevel      string
	CacheTTL        Duration
	MinAge          Duration
	MinConfidence   int
	CleanupInterval Duration
}

// AntiGreylist configures the deferred-retry policy for greylisted
// emails (antigreylist package).
type AntiGreylist struct {
	InitialBackoff Duration
	MaxBackoff     Duration
	MaxAttempts    int
}

// Recovery configures startup orphan reconciliation (recovery package).
type Recovery struct {
	// LookbackWindow bounds how far back an orphan candidate's
	// created_at may be and still be eligible for recovery.
	LookbackWindow Duration
}

// Config is the verification engine's full runtime configuration.
type Config struct {
	// DBFile is the path to the engine's primary SQLite database.
	DBFile string
	// DBPath mirrors DBFile. The litestream wrapper reads this name;
	// both fields are always kept in sync by Load and Default.
	DBPath string
	// DBDriver selects which db.Db backend to construct: "crawshaw" or
	// "zombiezen".
	DBDriver string

	Controller   Controller
	Webhook      Webhook
	CatchAll     CatchAll
	AntiGreylist AntiGreylist
	Recovery     Recovery
	Log          Log
	Notifier     Notifier
	Litestream   Litestream
}
