package config

import (
	"fmt"
	"strings"
)

// Validate checks the entire configuration for correctness.
func Validate(cfg *Config) error {
	if err := validateController(&cfg.Controller); err != nil {
		return fmt.Errorf("controller config validation failed: %w", err)
	}
	if err := validateDBDriver(cfg.DBDriver); err != nil {
		return fmt.Errorf("db_driver config validation failed: %w", err)
	}
	if err := validateWebhook(&cfg.Webhook); err != nil {
		return fmt.Errorf("webhook config validation failed: %w", err)
	}
	if err := validateLoggerBatch(&cfg.Log.Batch); err != nil {
		return fmt.Errorf("logger_batch config validation failed: %w", err)
	}
	if err := validateNotifier(&cfg.Notifier); err != nil {
		return fmt.Errorf("notifier config validation failed: %w", err)
	}
	if err := validateLitestream(&cfg.Litestream); err != nil {
		return fmt.Errorf("litestream config validation failed: %w", err)
	}
	if err := validateCatchAll(&cfg.CatchAll); err != nil {
		return fmt.Errorf("catch_all config validation failed: %w", err)
	}
	if err := validateAntiGreylist(&cfg.AntiGreylist); err != nil {
		return fmt.Errorf("anti_greylist config validation failed: %w", err)
	}
	return nil
}

func validateController(c *Controller) error {
	if c.ThreadNum < 1 {
		return fmt.Errorf("thread_num must be >= 1")
	}
	if c.PingFreq.Duration <= 0 {
		return fmt.Errorf("ping_freq must be positive")
	}
	if c.MXDomain == "" {
		return fmt.Errorf("mx_domain cannot be empty")
	}
	if c.EMDomain == "" {
		return fmt.Errorf("em_domain cannot be empty")
	}
	if c.RestartAfter.Duration <= 0 {
		return fmt.Errorf("restart_after must be positive")
	}
	if c.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port must be between 1 and 65535")
	}
	if c.QuickCheckBatch < 1 {
		return fmt.Errorf("quick_check_batch must be >= 1")
	}
	return nil
}

func validateDBDriver(driver string) error {
	switch driver {
	case "crawshaw", "zombiezen":
		return nil
	default:
		return fmt.Errorf("db_driver must be 'crawshaw' or 'zombiezen', got %q", driver)
	}
}

func validateWebhook(w *Webhook) error {
	if w.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if w.Timeout.Duration <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if w.BackoffUnit.Duration <= 0 {
		return fmt.Errorf("backoff_unit must be positive")
	}
	return nil
}

func validateLoggerBatch(b *BatchLogger) error {
	if !b.Enabled {
		return nil
	}
	if b.ChanSize < 1 {
		return fmt.Errorf("chan_size must be >= 1")
	}
	if b.FlushSize < 1 {
		return fmt.Errorf("flush_size must be >= 1")
	}
	if b.FlushInterval.Duration <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if b.DbPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	return nil
}

func validateNotifier(n *Notifier) error {
	if !n.Discord.Activated {
		return nil
	}
	if n.Discord.WebhookURL == "" {
		return fmt.Errorf("discord webhook_url cannot be empty when activated")
	}
	if !strings.Contains(n.Discord.WebhookURL, "discord.com/api/webhooks/") &&
		!strings.Contains(n.Discord.WebhookURL, "discordapp.com/api/webhooks/") {
		return fmt.Errorf("discord webhook_url must contain discord.com/api/webhooks/ or discordapp.com/api/webhooks/")
	}
	return nil
}

func validateCatchAll(c *CatchAll) error {
	switch c.CacheLevel {
	case "small", "medium", "large", "very-large":
	default:
		return fmt.Errorf("cache_level must be one of small, medium, large, very-large, got %q", c.CacheLevel)
	}
	if c.CacheTTL.Duration <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.MinAge.Duration <= 0 {
		return fmt.Errorf("min_age must be positive")
	}
	if c.MinConfidence < 1 || c.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be between 1 and 100")
	}
	if c.CleanupInterval.Duration <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	return nil
}

func validateAntiGreylist(a *AntiGreylist) error {
	if a.InitialBackoff.Duration <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if a.MaxBackoff.Duration < a.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	if a.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	return nil
}

func validateLitestream(l *Litestream) error {
	if !l.Enabled {
		return nil
	}
	if l.ReplicaPath == "" {
		return fmt.Errorf("replica_path cannot be empty when enabled")
	}
	if l.ReplicaName == "" {
		return fmt.Errorf("replica_name cannot be empty when enabled")
	}
	return nil
}
