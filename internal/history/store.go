package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dreamforge/dreamforge/internal/models"
)

// DefaultLimit bounds how many past generations are kept per user.
const DefaultLimit = 20

// Store is a bounded, locally persisted log of past generations. Each user
// has one JSON file holding the whole list; the file is read once, then
// rewritten in full on every mutation. A file that fails to parse is
// deleted wholesale and the log starts empty.
type Store struct {
	dir   string
	limit int
	log   *slog.Logger

	mu     sync.Mutex
	loaded map[string][]models.HistoryItem
}

func NewStore(dir string, limit int, log *slog.Logger) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{
		dir:    dir,
		limit:  limit,
		log:    log,
		loaded: make(map[string][]models.HistoryItem),
	}, nil
}

// List returns the user's history, most recent first.
func (s *Store) List(userID string) []models.HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.load(userID)
	out := make([]models.HistoryItem, len(items))
	copy(out, items)
	return out
}

// Append prepends a new entry, truncates to the limit and persists the
// whole list. Persistence failures are logged, not propagated: history is
// a convenience, never a reason to fail a generation.
func (s *Store) Append(userID string, item models.HistoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := append([]models.HistoryItem{item}, s.load(userID)...)
	if len(items) > s.limit {
		items = items[:s.limit]
	}
	s.loaded[userID] = items

	if err := s.persist(userID, items); err != nil {
		s.log.Error("persist history failed", "user", userID, "err", err)
	}
}

// NewItem builds a history entry with an id derived from the creation time
// and a prompt fragment. Not globally unique, but unique enough for list
// keys.
func NewItem(prompt, model, imageURL string, at time.Time) models.HistoryItem {
	fragment := prompt
	if runes := []rune(fragment); len(runes) > 16 {
		fragment = string(runes[:16])
	}
	fragment = strings.ReplaceAll(strings.TrimSpace(fragment), " ", "-")
	return models.HistoryItem{
		ID:        fmt.Sprintf("%d-%s", at.UnixMilli(), fragment),
		Prompt:    prompt,
		Model:     model,
		ImageURL:  imageURL,
		Timestamp: at,
	}
}

// load returns the cached list, reading the file on first access.
func (s *Store) load(userID string) []models.HistoryItem {
	if items, ok := s.loaded[userID]; ok {
		return items
	}

	path := s.path(userID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("read history failed", "user", userID, "err", err)
		}
		s.loaded[userID] = nil
		return nil
	}

	var items []models.HistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupted store: discard rather than repair.
		s.log.Error("corrupted history discarded", "user", userID, "err", err)
		_ = os.Remove(path)
		s.loaded[userID] = nil
		return nil
	}
	if len(items) > s.limit {
		items = items[:s.limit]
	}
	s.loaded[userID] = items
	return items
}

func (s *Store) persist(userID string, items []models.HistoryItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(s.path(userID), data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+".json")
}
