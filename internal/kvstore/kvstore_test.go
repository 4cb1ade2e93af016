package kvstore

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/InsulaLabs/txt2img/config"
	"github.com/InsulaLabs/txt2img/internal/tkv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T) Store
	store Store
}

func (s *StoreSuite) SetupTest() {
	s.store = s.open(s.T())
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreSuite) TestMissingKey() {
	_, err := s.store.Get("s3edit_history_nobody")
	s.True(tkv.IsNotFound(err), "expected not found, got %v", err)
}

func (s *StoreSuite) TestSetGetOverwrite() {
	key := "s3edit_history_conv"
	s.Require().NoError(s.store.Set(key, "one"))
	got, err := s.store.Get(key)
	s.Require().NoError(err)
	s.Equal("one", got)

	s.Require().NoError(s.store.Set(key, "two"))
	got, err = s.store.Get(key)
	s.Require().NoError(err)
	s.Equal("two", got)
}

func (s *StoreSuite) TestDelete() {
	key := "s3edit_history_delete"
	s.Require().NoError(s.store.Set(key, "v"))
	s.Require().NoError(s.store.Delete(key))
	_, err := s.store.Get(key)
	s.True(tkv.IsNotFound(err))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store { return NewMemory() }})
}

func TestCachedStore(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		store, err := tkv.New(tkv.Config{
			Logger:    testLogger(),
			Directory: t.TempDir(),
			CacheTTL:  time.Minute,
		})
		require.NoError(t, err)
		return NewCached(store)
	}})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TXT2IMG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TXT2IMG_TEST_REDIS_ADDR not set")
	}
	suite.Run(t, &StoreSuite{open: func(t *testing.T) Store {
		store, err := NewRedis(testLogger(), addr, time.Minute)
		require.NoError(t, err)
		return store
	}})
}

func TestOpen(t *testing.T) {
	cfg, err := config.GenerateConfig("")
	require.NoError(t, err)

	t.Run("memory", func(t *testing.T) {
		cfg.SessionStore.Backend = config.SessionBackendMemory
		store, err := Open(testLogger(), cfg, slog.LevelInfo)
		require.NoError(t, err)
		assert.IsType(t, &Memory{}, store)
	})

	t.Run("tkv", func(t *testing.T) {
		cfg.SessionStore.Backend = config.SessionBackendTKV
		cfg.DataDir = t.TempDir()
		store, err := Open(testLogger(), cfg, slog.LevelInfo)
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &Cached{}, store)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg.SessionStore.Backend = "etcd"
		_, err := Open(testLogger(), cfg, slog.LevelInfo)
		assert.ErrorIs(t, err, config.ErrSessionBackendUnknown)
	})
}
