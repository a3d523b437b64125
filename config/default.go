package config

import (
	"log/slog"
	"time"
)

// NewDefaultConfig returns a Config with every tunable at its stock
// value, plus the ambient logging/notification/backup sections the
// engine always carries regardless of which ones a deployment
// activates.
func NewDefaultConfig() *Config {
	return &Config{
		DBFile:   "verifier.db",
		DBPath:   "verifier.db",
		DBDriver: "zombiezen",
		Controller: Controller{
			ThreadNum:              4,
			PingFreq:               Duration{Duration: 10 * time.Second},
			MXDomain:               "localhost",
			EMDomain:               "example.com",
			RestartAfter:           Duration{Duration: 10 * time.Minute},
			Timeout:                Duration{Duration: 15 * time.Second},
			SMTPPort:               25,
			SMTPConnectTimeout:     Duration{Duration: 15 * time.Second},
			MXRaceTimeout:          Duration{Duration: 10 * time.Second},
			ReconnectBudget:        3,
			RetryPerEmail:          2,
			QuickCheckBatch:        20,
			StartTLS:               true,
			ArchiveCleanupInterval: Duration{Duration: time.Hour},
			ArchiveCompletedTTL:    Duration{Duration: 24 * time.Hour},
			ArchiveOrphanTTL:       Duration{Duration: 7 * 24 * time.Hour},
		},
		Webhook: Webhook{
			MaxAttempts: 5,
			Timeout:     Duration{Duration: 10 * time.Second},
			BackoffUnit: Duration{Duration: 2 * time.Second},
		},
		CatchAll: CatchAll{
			CacheLevel:      "small",
			CacheTTL:        Duration{Duration: 24 * time.Hour},
			MinAge:          Duration{Duration: 5 * time.Minute},
			MinConfidence:   70,
			CleanupInterval: Duration{Duration: 15 * time.Minute},
		},
		AntiGreylist: AntiGreylist{
			InitialBackoff: Duration{Duration: 5 * time.Minute},
			MaxBackoff:     Duration{Duration: 4 * time.Hour},
			MaxAttempts:    10,
		},
		Recovery: Recovery{
			LookbackWindow: Duration{Duration: 7 * 24 * time.Hour},
		},
		Log: Log{
			Batch: BatchLogger{
				Enabled:       true,
				ChanSize:      1000,
				FlushSize:     100,
				FlushInterval: Duration{Duration: 5 * time.Second},
				Level:         LogLevel{Level: slog.LevelInfo},
				DbPath:        "logs.db",
			},
		},
		Notifier: Notifier{
			Discord: Discord{
				Activated:    false,
				WebhookURL:   "",
				APIRateLimit: Duration{Duration: 2 * time.Second},
				APIBurst:     1,
				SendTimeout:  Duration{Duration: 10 * time.Second},
			},
		},
		Litestream: Litestream{
			Enabled:     false,
			ReplicaPath: "litestream-replica",
			ReplicaName: "verifier",
		},
	}
}
