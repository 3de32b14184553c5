package kv

import (
	"database/sql"
	"fmt"

	"whispr/common"

	"github.com/apex/log"
)

// MySQLStore keeps cache entries in a MySQL table, namespaced by owner so
// several principals can share one table.
type MySQLStore struct {
	db    *sql.DB
	owner string
}

func NewMySQLStore(db *sql.DB, owner string) *MySQLStore {
	return &MySQLStore{db: db, owner: owner}
}

// CreateTable creates the backing table when it does not exist yet.
func (s *MySQLStore) CreateTable() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS kv_cache (
		owner VARCHAR(255) NOT NULL,
		k VARCHAR(255) NOT NULL,
		v LONGTEXT NOT NULL,
		ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (owner, k)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create kv_cache table: %w", err)
	}
	return nil
}

func (s *MySQLStore) Get(key string) (string, bool, error) {
	rows, err := s.db.Query("SELECT v FROM kv_cache WHERE owner = ? AND k = ?", s.owner, key)
	if err != nil {
		log.Errorf("Could not read cache key %q for %q: %v", key, s.owner, err)
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	var v string
	if err := rows.Scan(&v); err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *MySQLStore) Set(key, value string) error {
	result, err := s.db.Exec(`INSERT INTO kv_cache (owner, k, v) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE v = ?`, s.owner, key, value, value)
	common.LogResult("kv set", result, err, false)
	return err
}
