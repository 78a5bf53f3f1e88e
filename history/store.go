// Package history persists the commands a program spawns, the way
// interactive shells keep a command history.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Spawn is one recorded FORK or EXEC event.
type Spawn struct {
	ID   int64
	Kind string // "fork" or "exec"
	Argv []string
	PID  int
	At   time.Time
}

// Store handles SQLite storage for spawn events. It implements
// vm.SpawnObserver.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a history database at the given path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS spawns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		argv TEXT NOT NULL,
		pid INTEGER NOT NULL,
		at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Forked records a FORK observed by the parent.
func (s *Store) Forked(pid int) {
	s.record("fork", nil, pid)
}

// ExecStarted records the argv a child is about to exec.
func (s *Store) ExecStarted(argv []string) {
	s.record("exec", argv, os.Getpid())
}

func (s *Store) record(kind string, argv []string, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Spawn recording is best effort; a failed insert must not stop the program.
	s.db.Exec("INSERT INTO spawns (kind, argv, pid) VALUES (?, ?, ?)",
		kind, strings.Join(argv, "\x00"), pid)
}

// Recent returns the most recent n spawn events, newest first.
func (s *Store) Recent(n int) ([]Spawn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT id, kind, argv, pid, at FROM spawns ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var spawns []Spawn
	for rows.Next() {
		var sp Spawn
		var argv string
		if err := rows.Scan(&sp.ID, &sp.Kind, &argv, &sp.PID, &sp.At); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		if argv != "" {
			sp.Argv = strings.Split(argv, "\x00")
		}
		spawns = append(spawns, sp)
	}
	return spawns, rows.Err()
}
