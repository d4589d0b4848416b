package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/GoCodeAlone/modular"
	_ "modernc.org/sqlite"
)

// SQLite persists disabled-rule flags in a local SQLite database. It is a
// modular module: the database is opened in Start and closed in Stop.
// Before Start, reads report enabled and writes fail.
type SQLite struct {
	name           string
	dbPath         string
	maxConnections int
	walMode        bool

	mu sync.RWMutex
	db *sql.DB

	logger modular.Logger
}

// NewSQLite creates the store module.
func NewSQLite(name, dbPath string) *SQLite {
	return &SQLite{
		name:           name,
		dbPath:         dbPath,
		maxConnections: 5,
		walMode:        true,
	}
}

// SetMaxConnections sets the maximum number of database connections.
func (s *SQLite) SetMaxConnections(n int) {
	if n > 0 {
		s.maxConnections = n
	}
}

// SetWALMode enables or disables WAL journal mode.
func (s *SQLite) SetWALMode(enabled bool) { s.walMode = enabled }

// Name implements modular.Module.
func (s *SQLite) Name() string { return s.name }

// Init implements modular.Module.
func (s *SQLite) Init(app modular.Application) error {
	s.logger = app.Logger()
	return app.RegisterService(s.name, s)
}

// Start opens the database and creates the schema.
func (s *SQLite) Start(_ context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}

	dsn := s.dbPath
	if s.walMode {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.dbPath, err)
	}
	db.SetMaxOpenConns(s.maxConnections)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS disabled_rules (
		rule_uid TEXT PRIMARY KEY
	)`); err != nil {
		db.Close()
		return fmt.Errorf("create disabled_rules table: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("disabled-rule store started", "path", s.dbPath)
	}
	return nil
}

// Stop closes the database.
func (s *SQLite) Stop(_ context.Context) error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db != nil {
		if s.logger != nil {
			s.logger.Info("disabled-rule store stopped")
		}
		return db.Close()
	}
	return nil
}

// IsDisabled reports whether the rule was explicitly disabled. Lookup
// failures are treated as enabled.
func (s *SQLite) IsDisabled(ruleUID string) bool {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return false
	}
	var uid string
	err := db.QueryRow(`SELECT rule_uid FROM disabled_rules WHERE rule_uid = ?`, ruleUID).Scan(&uid)
	return err == nil
}

// SetDisabled records the rule's disablement flag.
func (s *SQLite) SetDisabled(ruleUID string, disabled bool) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return fmt.Errorf("disabled-rule store not started")
	}
	var err error
	if disabled {
		_, err = db.Exec(`INSERT INTO disabled_rules (rule_uid) VALUES (?) ON CONFLICT DO NOTHING`, ruleUID)
	} else {
		_, err = db.Exec(`DELETE FROM disabled_rules WHERE rule_uid = ?`, ruleUID)
	}
	if err != nil {
		return fmt.Errorf("persist disablement of rule %q: %w", ruleUID, err)
	}
	return nil
}

// ProvidesServices implements modular.ServiceAware.
func (s *SQLite) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: s.name, Description: "Disabled-rule persistence", Instance: s},
	}
}

// RequiresServices implements modular.ServiceAware.
func (s *SQLite) RequiresServices() []modular.ServiceDependency { return nil }
