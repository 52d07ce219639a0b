package config

import (
	"testing"
	"time"
)

func TestLoadMemoryDriverWithoutDatabaseURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_ALL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected memory driver to load without DATABASE_URL, got %v", err)
	}
	if cfg.GetStoreDriver() != StoreDriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.GetStoreDriver())
	}
	if cfg.GetTimelineDebounce() != 300*time.Millisecond {
		t.Fatalf("expected default debounce of 300ms, got %s", cfg.GetTimelineDebounce())
	}
	if cfg.IsCacheEnabled() {
		t.Fatal("cache should be disabled without REDIS_URL")
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing for postgres driver")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store driver")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b ,c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected split result: %#v", got)
	}
}
