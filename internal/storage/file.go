package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "framesched/pkg/logx"
)

// recentCap bounds the in-memory tail served by RecentTaskRecords.
const recentCap = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.history.jsonl (append-only JSON Lines)
//
// The last recentCap records are replayed into memory on open.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	f  *os.File

	recent []TaskRecord // ring
	next   int
	full   bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	histPath := filepath.Join(dir, base) + ".history.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, recent: make([]TaskRecord, recentCap)}
	if err := s.replay(histPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("history replay failed", logx.String("path", histPath), logx.Err(err))
	}

	f, err := os.OpenFile(histPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	skipped := 0
	for sc.Scan() {
		var r TaskRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line after a crash is expected; skip it.
			skipped++
			continue
		}
		s.remember(r)
	}
	if skipped > 0 {
		s.log.Debug("history lines skipped", logx.Int("count", skipped))
	}
	return sc.Err()
}

func (s *fileStore) remember(r TaskRecord) {
	s.recent[s.next] = r
	s.next = (s.next + 1) % len(s.recent)
	if s.next == 0 {
		s.full = true
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendTaskRecord(ctx context.Context, r TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.remember(r)
	return nil
}

func (s *fileStore) RecentTaskRecords(ctx context.Context, n int) ([]TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.next
	if s.full {
		size = len(s.recent)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]TaskRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out, nil
}
