package config

import (
	"os"
	"reflect"
	"sync"
	"testing"
)

func TestProvider_GetAndUpdate(t *testing.T) {
	t.Parallel()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("NewProvider did not panic with nil config")
			}
		}()
		_ = NewProvider(nil)
	}()

	cfg1 := &Config{Controller: Controller{MXDomain: "a.example.com"}}
	provider := NewProvider(cfg1)
	if !reflect.DeepEqual(cfg1, provider.Get()) {
		t.Errorf("Get() got = %v, want %v", provider.Get(), cfg1)
	}

	cfg2 := &Config{Controller: Controller{MXDomain: "b.example.com"}}
	provider.Update(cfg2)
	if !reflect.DeepEqual(cfg2, provider.Get()) {
		t.Errorf("Get() got = %v, want %v", provider.Get(), cfg2)
	}
}

func TestProvider_Concurrency(t *testing.T) {
	t.Parallel()

	provider := NewProvider(&Config{Controller: Controller{MXDomain: "a.example.com"}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			provider.Update(&Config{Controller: Controller{MXDomain: "b.example.com"}})
		}()
		go func() {
			defer wg.Done()
			_ = provider.Get()
		}()
	}
	wg.Wait()
}

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	if cfg.Controller.ThreadNum != 4 {
		t.Errorf("ThreadNum = %d, want 4", cfg.Controller.ThreadNum)
	}
	if cfg.Controller.SMTPPort != 25 {
		t.Errorf("SMTPPort = %d, want 25", cfg.Controller.SMTPPort)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load("/nonexistent/path/does/not/exist.toml")
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.Controller.ThreadNum != 4 {
		t.Errorf("expected defaults when file is missing, got ThreadNum=%d", cfg.Controller.ThreadNum)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/verifier.toml"
	body := `
DBFile = "custom.db"

[Controller]
ThreadNum = 8
MXDomain = "probe.internal"
EMDomain = "probe.internal"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Controller.ThreadNum != 8 {
		t.Errorf("ThreadNum = %d, want 8", cfg.Controller.ThreadNum)
	}
	if cfg.DBFile != "custom.db" || cfg.DBPath != "custom.db" {
		t.Errorf("DBFile/DBPath not synced: %q / %q", cfg.DBFile, cfg.DBPath)
	}
}
