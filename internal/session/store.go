package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Storage is the byte oriented key value store the host lends the plugin.
type Storage interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// Key is the storage key of a conversation's history.
func Key(tool, conversationID string) string {
	return fmt.Sprintf("%s_history_%s", tool, conversationID)
}

type ErrCorruptHistory struct {
	Key string
	Err error
}

func (e *ErrCorruptHistory) Error() string {
	return fmt.Sprintf("history at %s is not valid json: %v", e.Key, e.Err)
}

func (e *ErrCorruptHistory) Unwrap() error {
	return e.Err
}

type Store struct {
	storage Storage
	tool    string
}

func NewStore(storage Storage, tool string) *Store {
	return &Store{storage: storage, tool: tool}
}

// Load reads the history of conversationID and drops every record later
// than dialogueCount. Nothing is written back; the dropped records vanish
// from storage with the next Save.
func (s *Store) Load(logger *slog.Logger, conversationID string, dialogueCount int) (History, error) {
	key := Key(s.tool, conversationID)
	raw, ok, err := s.storage.Get(key)
	if err != nil {
		return History{}, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		logger.Info("no existing history found", "key", key)
		return History{}, nil
	}

	var h History
	if err := json.Unmarshal(raw, &h); err != nil {
		return History{}, &ErrCorruptHistory{Key: key, Err: err}
	}

	kept := h.Truncate(dialogueCount)
	if dropped := len(h) - len(kept); dropped > 0 {
		logger.Info("discarded turns from an abandoned branch", "key", key, "dropped", dropped)
	}
	logger.Debug("loaded history", "key", key, "turns", len(kept))
	return kept, nil
}

func (s *Store) Save(logger *slog.Logger, conversationID string, h History) error {
	key := Key(s.tool, conversationID)
	if h == nil {
		h = History{}
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.storage.Set(key, raw); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	logger.Debug("saved history", "key", key, "turns", len(h))
	return nil
}
