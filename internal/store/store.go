package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var (
	ErrNotInitialized    = errors.New("store is not initialized")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrSessionFinalized  = errors.New("session already finalized")
	ErrInvalidSessionID  = errors.New("invalid session id")
	ErrStoreLockTimedOut = errors.New("timed out waiting for store lock")
)

const (
	maxSessionRecordBytes = 32 * 1024 * 1024
	lockRetryDelay        = 10 * time.Millisecond
	defaultLockTimeout    = 5 * time.Second
)

type SessionStore interface {
	Init(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	RootDir() string
	BeginSession(ctx context.Context, record SessionRecord) error
	AppendStep(ctx context.Context, sessionID string, step StepRecord) error
	FinalizeSession(ctx context.Context, sessionID string, finalScorePercent int, completedAt time.Time) (*SessionRecord, error)
	ActiveSessions(ctx context.Context) ([]SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	SessionByID(ctx context.Context, id string) (*SessionRecord, error)
}

// JSONStore keeps in-progress sessions as one JSON file each under active/
// and appends finalized sessions to sessions.jsonl. Mutations hold an
// advisory file lock so a CLI run and a server can share one data dir.
type JSONStore struct {
	rootPath     string
	activeDir    string
	sessionsPath string
	lockPath     string
	lockTimeout  time.Duration

	mu sync.Mutex
}

func NewJSONStore(rootPath string) *JSONStore {
	return &JSONStore{
		rootPath:     rootPath,
		activeDir:    filepath.Join(rootPath, "active"),
		sessionsPath: filepath.Join(rootPath, "sessions.jsonl"),
		lockPath:     filepath.Join(rootPath, "store.lock"),
		lockTimeout:  defaultLockTimeout,
	}
}

func (s *JSONStore) RootDir() string {
	return s.rootPath
}

func (s *JSONStore) Init(_ context.Context) error {
	if err := os.MkdirAll(s.activeDir, 0o700); err != nil {
		return fmt.Errorf("create store directories: %w", err)
	}

	file, err := os.OpenFile(s.sessionsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("ensure sessions file: %w", err)
	}
	return file.Close()
}

func (s *JSONStore) IsInitialized(_ context.Context) (bool, error) {
	info, err := os.Stat(s.sessionsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat sessions file: %w", err)
	}

	return !info.IsDir(), nil
}

func (s *JSONStore) BeginSession(ctx context.Context, record SessionRecord) error {
	if err := s.requireInitialized(ctx); err != nil {
		return err
	}
	path, err := s.activePath(record.ID)
	if err != nil {
		return err
	}

	return s.withLock(ctx, func() error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrSessionExists, record.ID)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("check active session: %w", err)
		}

		record.StartedAt = record.StartedAt.UTC()
		if record.Steps == nil {
			record.Steps = make([]StepRecord, 0, record.StepCount)
		}
		if err := writeJSONAtomic(path, record); err != nil {
			return fmt.Errorf("write active session: %w", err)
		}
		return nil
	})
}

// AppendStep adds a step to an active session. A session that was never
// begun is created on the fly so results are not lost.
func (s *JSONStore) AppendStep(ctx context.Context, sessionID string, step StepRecord) error {
	if err := s.requireInitialized(ctx); err != nil {
		return err
	}
	path, err := s.activePath(sessionID)
	if err != nil {
		return err
	}

	return s.withLock(ctx, func() error {
		record, err := readActive(path)
		if errors.Is(err, ErrSessionNotFound) {
			record = &SessionRecord{
				ID:        sessionID,
				StartedAt: step.RecordedAt.UTC(),
			}
		} else if err != nil {
			return err
		}

		step.RecordedAt = step.RecordedAt.UTC()
		record.Steps = append(record.Steps, step)
		if err := writeJSONAtomic(path, record); err != nil {
			return fmt.Errorf("persist active session: %w", err)
		}
		return nil
	})
}

func (s *JSONStore) FinalizeSession(ctx context.Context, sessionID string, finalScorePercent int, completedAt time.Time) (*SessionRecord, error) {
	if err := s.requireInitialized(ctx); err != nil {
		return nil, err
	}
	path, err := s.activePath(sessionID)
	if err != nil {
		return nil, err
	}

	var finalized *SessionRecord
	if err := s.withLock(ctx, func() error {
		record, err := readActive(path)
		if errors.Is(err, ErrSessionNotFound) {
			if done, findErr := s.findCompleted(sessionID); findErr == nil && done != nil {
				return fmt.Errorf("%w: %s", ErrSessionFinalized, sessionID)
			}
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return err
		}

		end := completedAt.UTC()
		record.CompletedAt = &end
		record.FinalScorePercent = finalScorePercent

		if err := s.appendCompleted(record); err != nil {
			return fmt.Errorf("append completed session: %w", err)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove active session: %w", err)
		}

		finalized = record
		return nil
	}); err != nil {
		return nil, err
	}

	return finalized, nil
}

// ActiveSessions returns sessions that have not been finalized, oldest first.
func (s *JSONStore) ActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	if err := s.requireInitialized(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.activeDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read active dir: %w", err)
	}

	records := make([]SessionRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		record, err := readActive(filepath.Join(s.activeDir, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// ListSessions returns finalized sessions, newest first.
func (s *JSONStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if err := s.requireInitialized(ctx); err != nil {
		return nil, err
	}

	sessions, err := s.readAllSessions()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(sessions) {
		limit = len(sessions)
	}

	result := make([]SessionRecord, 0, limit)
	for i := len(sessions) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, sessions[i])
	}
	return result, nil
}

// SessionByID looks in finalized sessions first, then in active ones.
func (s *JSONStore) SessionByID(ctx context.Context, id string) (*SessionRecord, error) {
	if err := s.requireInitialized(ctx); err != nil {
		return nil, err
	}

	record, err := s.findCompleted(id)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	path, err := s.activePath(id)
	if err != nil {
		return nil, err
	}
	return readActive(path)
}

func (s *JSONStore) findCompleted(id string) (*SessionRecord, error) {
	sessions, err := s.readAllSessions()
	if err != nil {
		return nil, err
	}
	for i := len(sessions) - 1; i >= 0; i-- {
		if sessions[i].ID == id {
			session := sessions[i]
			return &session, nil
		}
	}
	return nil, nil
}

func (s *JSONStore) activePath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return filepath.Join(s.activeDir, id+".json"), nil
}

func (s *JSONStore) requireInitialized(ctx context.Context) error {
	initialized, err := s.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return ErrNotInitialized
	}
	return nil
}

func (s *JSONStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	lock := flock.New(s.lockPath)
	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrStoreLockTimedOut
		}
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return ErrStoreLockTimedOut
	}
	defer func() {
		_ = lock.Unlock()
	}()

	return fn()
}

func readActive(path string) (*SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read active session: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode active session: %w", err)
	}

	return &record, nil
}

func (s *JSONStore) appendCompleted(record *SessionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	file, err := os.OpenFile(s.sessionsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open sessions file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append session record: %w", err)
	}

	return nil
}

func (s *JSONStore) readAllSessions() ([]SessionRecord, error) {
	file, err := os.Open(s.sessionsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("open sessions file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSessionRecordBytes)
	sessions := make([]SessionRecord, 0, 32)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var session SessionRecord
		if err := json.Unmarshal([]byte(line), &session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions file: %w", err)
	}
	return sessions, nil
}

func writeJSONAtomic(path string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmpFile, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(payload); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
