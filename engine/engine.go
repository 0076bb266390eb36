package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"mapring/logger"
)

var ErrNotFound = errors.New("key not found")

type Engine struct {
	Db   *pebble.DB
	path string
	log  *zap.Logger
}

// NewEngine opens a pebble database at basePath. When another process holds
// the lock it falls back to basePath_1 .. basePath_5, so several nodes can
// share a working directory.
func NewEngine(basePath string) (*Engine, error) {
	maxRetries := 5
	log := logger.Named("engine")

	var db *pebble.DB
	var err error

	for i := 0; i <= maxRetries; i++ {
		dbPath := basePath
		if i > 0 {
			dbPath = fmt.Sprintf("%s_%d", basePath, i)
		}

		db, err = pebble.Open(dbPath, &pebble.Options{})
		if err == nil {
			log.Info("using pebble db", zap.String("path", dbPath))
			return &Engine{Db: db, path: dbPath, log: log}, nil
		}

		if isLockErr(err) {
			log.Warn("pebble db is locked, trying next path", zap.String("path", dbPath))
			continue
		}

		log.Error("failed to open pebble db", zap.String("path", dbPath), zap.Error(err))
		return nil, err
	}

	return nil, fmt.Errorf("all fallback pebble paths under %s are locked or failed: %w", basePath, err)
}

// windows, linux and mac lock messages
func isLockErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lock") ||
		strings.Contains(msg, "resource temporarily unavailable") ||
		strings.Contains(msg, "being used by another process") ||
		strings.Contains(msg, "cannot access the file")
}

func (e *Engine) Path() string {
	return e.path
}

func (e *Engine) Close() error {
	if e.Db == nil {
		return nil
	}
	err := e.Db.Close()
	e.Db = nil
	return err
}

// Get returns a copy of the value stored at key, or ErrNotFound.
func (e *Engine) Get(key string) ([]byte, error) {
	if e.Db == nil {
		return nil, errors.New("database not initialized")
	}
	val, closer, err := e.Db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (e *Engine) Set(key string, val []byte) error {
	if e.Db == nil {
		return errors.New("database not initialized")
	}
	return e.Db.Set([]byte(key), val, pebble.Sync)
}
