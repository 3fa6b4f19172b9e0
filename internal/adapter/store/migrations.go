package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.etcd.io/bbolt"

	"chai/internal/domain"
)

// CurrentSchemaVersion is the current storage layout version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchemaInfo = []byte("schema_info")
)

// SchemaInfo is persisted in the meta bucket.
type SchemaInfo struct {
	Version        int    `json:"version"`
	EmbeddingModel string `json:"embedding_model"`
	Dimension      int    `json:"dimension"`
}

// GetSchemaInfo retrieves the schema info. A fresh database returns the zero value.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keySchemaInfo)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &info); err != nil {
			// Unreadable meta is treated as the first layout
			info = SchemaInfo{Version: 1}
		}
		return nil
	})
	return &info, err
}

// SetSchemaInfo stores the schema info.
func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return eris.Wrap(err, "store: encode schema info")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keySchemaInfo, data)
	})
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration reports whether the storage layout must be upgraded.
func (s *BoltStore) CheckMigration() (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, eris.Wrap(err, "store: get schema info")
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		return nil, eris.Errorf("store: database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}
	return result, nil
}

// Migrate performs any necessary layout migrations.
func (s *BoltStore) Migrate() error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return eris.Wrapf(err, "store: migration from v%d to v%d failed", v, v+1)
		}
	}

	info.Version = CurrentSchemaVersion
	return s.SetSchemaInfo(info)
}

func (s *BoltStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		return nil
	case from == 1 && to == 2:
		// v2 moved schema keys into a single JSON value under meta
		return s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketMeta)
			for _, k := range [][]byte{[]byte("schema_version"), []byte("config_hash")} {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return nil
	}
}

// CheckSchema compares the recorded embedding model and dimension with the
// configured ones.
func (s *BoltStore) CheckSchema(ctx context.Context, model string, dimension int) (domain.SchemaCheck, error) {
	var check domain.SchemaCheck
	if err := ctx.Err(); err != nil {
		return check, err
	}
	info, err := s.GetSchemaInfo()
	if err != nil {
		return check, eris.Wrap(err, "store: get schema info")
	}
	check.StoredModel = info.EmbeddingModel
	check.StoredDimension = info.Dimension

	switch {
	case info.Dimension == 0 && info.EmbeddingModel == "":
		// Nothing recorded yet
	case info.Dimension != dimension:
		check.Reembed = true
		check.Reset = true
		check.Reason = fmt.Sprintf("vector size changed from %d to %d", info.Dimension, dimension)
	case info.EmbeddingModel != model:
		check.Reembed = true
		check.Reason = fmt.Sprintf("embedding model changed from %s to %s", info.EmbeddingModel, model)
	}
	return check, nil
}

// RecordSchema stores the embedding model and dimension the index now holds.
func (s *BoltStore) RecordSchema(ctx context.Context, model string, dimension int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}
	if info.Version == 0 {
		info.Version = CurrentSchemaVersion
	}
	info.EmbeddingModel = model
	info.Dimension = dimension
	return s.SetSchemaInfo(info)
}
