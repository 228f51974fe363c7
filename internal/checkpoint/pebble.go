package checkpoint

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
)

var lastSentKey = []byte("auditfwd/last_sent")

// PebbleStore keeps the checkpoint under a single key in a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the database in dir.
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Load() (int64, error) {
	val, closer, err := s.db.Get(lastSentKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint: pebble get: %w", err)
	}
	defer closer.Close()
	return parseEpoch(string(val))
}

func (s *PebbleStore) Save(epoch int64) error {
	if err := s.db.Set(lastSentKey, []byte(strconv.FormatInt(epoch, 10)), pebble.Sync); err != nil {
		return fmt.Errorf("checkpoint: pebble set: %w", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
