package config

import "testing"

func TestValidate_Default(t *testing.T) {
	t.Parallel()

	if err := Validate(NewDefaultConfig()); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate_Controller(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Controller.ThreadNum = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for ThreadNum=0")
	}

	cfg = NewDefaultConfig()
	cfg.Controller.MXDomain = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty MXDomain")
	}

	cfg = NewDefaultConfig()
	cfg.Controller.SMTPPort = 70000
	if err := Validate(cfg); err == nil {
		t.Error("expected error for out-of-range SMTPPort")
	}
}

func TestValidate_DBDriver(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.DBDriver = "postgres"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for unsupported db_driver")
	}

	for _, driver := range []string{"crawshaw", "zombiezen"} {
		cfg := NewDefaultConfig()
		cfg.DBDriver = driver
		if err := Validate(cfg); err != nil {
			t.Errorf("driver %q should validate: %v", driver, err)
		}
	}
}

func TestValidate_LoggerBatch(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Log.Batch.DbPath = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty Log.Batch.DbPath")
	}

	cfg = NewDefaultConfig()
	cfg.Log.Batch.Enabled = false
	cfg.Log.Batch.DbPath = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled batch logger should skip validation: %v", err)
	}
}

func TestValidate_Notifier(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Notifier.Discord.Activated = true
	cfg.Notifier.Discord.WebhookURL = "https://example.com/not-discord"
	if err := Validate(cfg); err == nil {
		t.Error("expected error for non-discord webhook_url when activated")
	}

	cfg.Notifier.Discord.WebhookURL = "https://discord.com/api/webhooks/1/abc"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid discord webhook should pass: %v", err)
	}
}

func TestValidate_Litestream(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Litestream.Enabled = true
	cfg.Litestream.ReplicaPath = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected error for empty replica_path when enabled")
	}
}
