package kv

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBStore persists the cache in a LevelDB directory on local disk.
type LevelDBStore struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	log.Infof("Opened local cache at %s", path)
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(key string) (string, bool, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *LevelDBStore) Set(key, value string) error {
	return s.db.Put([]byte(key), []byte(value), nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
