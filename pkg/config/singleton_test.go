package config

import (
	"strings"
	"sync"
	"testing"
)

func resetGlobal() {
	globalConfig = nil
	initOnce = sync.Once{}
	initErr = nil
}

func TestInitialize(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := writeConfig(t, "api:\n  listen_address: \"127.0.0.1:9100\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("failed to initialize config: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("Expected config after Initialize")
	}
	if cfg.API.ListenAddress != "127.0.0.1:9100" {
		t.Errorf("Expected 127.0.0.1:9100, got %q", cfg.API.ListenAddress)
	}

	other := writeConfig(t, "api:\n  listen_address: \"127.0.0.1:9200\"\n")
	if err := Initialize(other); err != nil {
		t.Fatalf("Second Initialize failed: %v", err)
	}
	if GetConfig().API.ListenAddress != "127.0.0.1:9100" {
		t.Error("Expected second Initialize to be ignored")
	}
}

func TestInitialize_ErrorIsSticky(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	bad := writeConfig(t, "ledger:\n  backend: tape\n")
	if err := Initialize(bad); err == nil {
		t.Fatal("Expected error for invalid config")
	}
	if err := Initialize(""); err == nil {
		t.Error("Expected the first error to be returned again")
	}
	if GetConfig() != nil {
		t.Error("Expected no config after failed Initialize")
	}
}

func TestReloadConfig_KeepsPreviousOnFailure(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	SetConfig(validConfig())
	before := GetConfig()

	bad := writeConfig(t, "events:\n  backend: kafka\n")
	err := ReloadConfig(bad)
	if err == nil || !strings.Contains(err.Error(), "failed to reload") {
		t.Fatalf("Expected reload error, got %v", err)
	}
	if GetConfig() != before {
		t.Error("Expected previous config to remain")
	}

	good := writeConfig(t, "explainer:\n  cache_size: 7\n")
	if err := ReloadConfig(good); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if GetConfig().Explainer.CacheSize != 7 {
		t.Errorf("Expected reloaded cache size 7, got %d", GetConfig().Explainer.CacheSize)
	}
}

func TestMustGetConfig(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic without config")
		}
	}()
	MustGetConfig()
}
