package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/sift/pkg/sift/store"
)

// Schema versions:
// 1 - entries with parent, kind, extension and hash indexes; root records
const CurrentSchemaVersion = 1

// Schema holds the stored schema version.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// schema returns the stored schema, or nil for a fresh database.
func (s *Store) schema() (*Schema, error) {
	var sc *Schema
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sc = &Schema{}
			return json.Unmarshal(val, sc)
		})
	})
	return sc, err
}

func (s *Store) setSchema(version int) error {
	data, err := json.Marshal(&Schema{Version: version, UpdatedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// migrate brings the database up to CurrentSchemaVersion. Each step runs
// in order and records its version when done.
func (s *Store) migrate() error {
	sc, err := s.schema()
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	from := 0
	if sc != nil {
		from = sc.Version
	}
	if from > CurrentSchemaVersion {
		return fmt.Errorf("%w: have %d, support %d", store.ErrSchemaTooNew, from, CurrentSchemaVersion)
	}

	for v := from + 1; v <= CurrentSchemaVersion; v++ {
		// Version 1 is the initial layout and needs no data changes.
		if err := s.setSchema(v); err != nil {
			return fmt.Errorf("recording schema %d: %w", v, err)
		}
		s.log.Debug("schema migrated", "version", v)
	}
	return nil
}
