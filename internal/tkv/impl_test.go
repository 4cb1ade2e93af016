package tkv

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func createTestTKV(t *testing.T) TKV {
	t.Helper()
	store, err := New(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
		BadgerLogLevel: slog.LevelWarn,
		Directory:      t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Failed to create test TKV: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func TestTKV_GetSetDelete(t *testing.T) {
	store := createTestTKV(t)

	t.Run("Set and Get history value", func(t *testing.T) {
		key := "s3edit_history_conv-1"
		value := `[{"dialogue_count":0,"instruction":"draw a cat","image_urls":[]}]`
		if err := store.Set(key, value); err != nil {
			t.Errorf("Set() error = %v, wantErr nil", err)
		}

		got, err := store.Get(key)
		if err != nil {
			t.Errorf("Get() error = %v, wantErr nil", err)
		}
		if got != value {
			t.Errorf("Get() got = %v, want %v", got, value)
		}
	})

	t.Run("Overwrite replaces value", func(t *testing.T) {
		key := "s3edit_history_conv-2"
		if err := store.Set(key, "first"); err != nil {
			t.Fatalf("Setup: Set() error = %v", err)
		}
		if err := store.Set(key, "second"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, err := store.Get(key)
		if err != nil || got != "second" {
			t.Errorf("Get() got = %v, %v, want second, nil", got, err)
		}
	})

	t.Run("Get missing key", func(t *testing.T) {
		key := "s3edit_history_missing"
		_, err := store.Get(key)
		var keyNotFound *ErrKeyNotFound
		if !errors.As(err, &keyNotFound) {
			t.Fatalf("Get() expected ErrKeyNotFound, got %T", err)
		}
		if keyNotFound.Key != key {
			t.Errorf("ErrKeyNotFound.Key got = %s, want %s", keyNotFound.Key, key)
		}
		if !IsNotFound(err) {
			t.Errorf("IsNotFound() = false for %v", err)
		}
	})

	t.Run("Delete then Get", func(t *testing.T) {
		key := "s3edit_history_deleted"
		if err := store.Set(key, "x"); err != nil {
			t.Fatalf("Setup: Set() error = %v", err)
		}
		if err := store.Delete(key); err != nil {
			t.Errorf("Delete() error = %v, wantErr nil", err)
		}
		if _, err := store.Get(key); !IsNotFound(err) {
			t.Errorf("Get() after Delete expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Delete missing key is not an error", func(t *testing.T) {
		if err := store.Delete("never-written"); err != nil {
			t.Errorf("Delete() error = %v, wantErr nil", err)
		}
	})
}

func TestTKV_ValueTTL(t *testing.T) {
	store, err := New(Config{
		Logger:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
		BadgerLogLevel: slog.LevelWarn,
		Directory:      t.TempDir(),
		ValueTTL:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.Set("s3edit_history_short", "[]"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, err := store.Get("s3edit_history_short"); err != nil || got != "[]" {
		t.Fatalf("Get() before expiry got = %v, %v", got, err)
	}

	time.Sleep(3 * time.Second)
	if _, err := store.Get("s3edit_history_short"); !IsNotFound(err) {
		t.Errorf("Get() after expiry expected ErrKeyNotFound, got %v", err)
	}
}

func TestTKV_Cache(t *testing.T) {
	store := createTestTKV(t)

	t.Run("Set and Get", func(t *testing.T) {
		if err := store.CacheSet("k", "v", time.Minute); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		got, err := store.CacheGet("k")
		if err != nil || got != "v" {
			t.Errorf("CacheGet() got = %v, %v, want v, nil", got, err)
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		ttl := 100 * time.Millisecond
		if err := store.CacheSet("short", "lived", ttl); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		time.Sleep(ttl + 50*time.Millisecond)
		if _, err := store.CacheGet("short"); !IsNotFound(err) {
			t.Errorf("CacheGet() expected ErrKeyNotFound for expired key, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.CacheSet("gone", "soon", 0); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		if err := store.CacheDelete("gone"); err != nil {
			t.Errorf("CacheDelete() error = %v", err)
		}
		if _, err := store.CacheGet("gone"); !IsNotFound(err) {
			t.Errorf("CacheGet() after CacheDelete expected ErrKeyNotFound, got %v", err)
		}
	})

	t.Run("Cache is independent of the store", func(t *testing.T) {
		if err := store.CacheSet("only-cached", "v", 0); err != nil {
			t.Fatalf("CacheSet() error = %v", err)
		}
		if _, err := store.Get("only-cached"); !IsNotFound(err) {
			t.Errorf("Get() of cache-only key expected ErrKeyNotFound, got %v", err)
		}
	})
}

func TestTKV_CacheTTLCappedByValueTTL(t *testing.T) {
	tests := []struct {
		name     string
		cacheTTL time.Duration
		valueTTL time.Duration
		want     time.Duration
	}{
		{"no value ttl", time.Minute, 0, time.Minute},
		{"value ttl shorter", time.Minute, 10 * time.Second, 10 * time.Second},
		{"value ttl longer", time.Minute, time.Hour, time.Minute},
		{"default cache ttl", 0, 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := New(Config{
				Logger:         slog.New(slog.NewTextHandler(os.Stdout, nil)),
				BadgerLogLevel: slog.LevelWarn,
				Directory:      t.TempDir(),
				CacheTTL:       tt.cacheTTL,
				ValueTTL:       tt.valueTTL,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer kv.Close()
			if got := kv.(*store).cacheTTL; got != tt.want {
				t.Errorf("cacheTTL got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBadgerLoggerAdapterLevel(t *testing.T) {
	var buf bytes.Buffer
	slogger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newLogger(slogger, slog.LevelWarn)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)
	l.Errorf("error %d", 4)

	out := buf.String()
	for _, dropped := range []string{"debug 1", "info 2"} {
		if strings.Contains(out, dropped) {
			t.Errorf("output contains %q below the badger level: %s", dropped, out)
		}
	}
	for _, kept := range []string{"warning 3", "error 4"} {
		if !strings.Contains(out, kept) {
			t.Errorf("output missing %q: %s", kept, out)
		}
	}
}
