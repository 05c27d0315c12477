package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/solatis/rulekeeper/internal/actions"
	"github.com/solatis/rulekeeper/internal/metadata"
	"github.com/solatis/rulekeeper/internal/types"
)

// recordRow is the records table shape.
type recordRow struct {
	Module    string    `db:"module"`
	RecordID  string    `db:"record_id"`
	Data      string    `db:"data"`
	Tags      string    `db:"tags"`
	UpdatedAt time.Time `db:"updated_at"`
}

// RecordStore holds raw module records. It serves field resolution and the
// add-tag and update-status action handlers.
//
// Tags live in their own column and are exposed to rules as the "tags" field.
// Mutations are read-modify-write and serialized within the process.
type RecordStore struct {
	q   *Queries
	mu  sync.Mutex
	now func() time.Time
}

// NewRecordStore creates a record store over q.
func NewRecordStore(q *Queries) *RecordStore {
	return &RecordStore{q: q, now: func() time.Time { return time.Now().UTC() }}
}

var (
	_ actions.TagService    = (*RecordStore)(nil)
	_ actions.StatusMutator = (*RecordStore)(nil)
)

// GetRecord returns the record's fields with its tags under "tags".
// Returns types.ErrRecordNotFound if it does not exist.
func (s *RecordStore) GetRecord(ctx context.Context, module types.Module, id types.RecordID) (map[string]any, error) {
	var row recordRow
	if err := s.q.Get(ctx, "get-record", &row, module, id); err != nil {
		return nil, notFound(err, module, id)
	}
	data, tags, err := row.decode()
	if err != nil {
		return nil, err
	}
	data[metadata.TagsField] = tags
	return data, nil
}

// PutRecord inserts or replaces a record. A "tags" entry in data is stored
// as the record's tags.
func (s *RecordStore) PutRecord(ctx context.Context, module types.Module, id types.RecordID, data map[string]any) error {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		fields[k] = v
	}
	tags := []any{}
	if raw, ok := fields[metadata.TagsField]; ok {
		delete(fields, metadata.TagsField)
		switch list := raw.(type) {
		case []any:
			tags = list
		case []string:
			for _, t := range list {
				tags = append(tags, t)
			}
		case nil:
		default:
			return fmt.Errorf("%w: tags of %s/%s must be a list, got %T", types.ErrTypeMismatch, module, id, raw)
		}
	}

	encodedData, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", module, id, err)
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encode tags of %s/%s: %w", module, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.q.Exec(ctx, "upsert-record", module, id, string(encodedData), string(encodedTags), s.now()); err != nil {
		return fmt.Errorf("store record %s/%s: %w", module, id, err)
	}
	return nil
}

// AddTag adds tag to the record. Adding a tag already present is a no-op, so
// retried dispatches do not duplicate it.
func (s *RecordStore) AddTag(ctx context.Context, module types.Module, id types.RecordID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.q.InTx(ctx, func(tx *Tx) error {
		var row recordRow
		if err := tx.Get(ctx, "get-record", &row, module, id); err != nil {
			return notFound(err, module, id)
		}
		_, tags, err := row.decode()
		if err != nil {
			return err
		}
		for _, t := range tags {
			if t == tag {
				return nil
			}
		}

		encoded, err := json.Marshal(append(tags, tag))
		if err != nil {
			return fmt.Errorf("encode tags of %s/%s: %w", module, id, err)
		}
		if _, err := tx.Exec(ctx, "update-record-tags", string(encoded), s.now(), module, id); err != nil {
			return fmt.Errorf("update tags of %s/%s: %w", module, id, err)
		}
		return nil
	})
}

// UpdateStatus sets the record's "status" field.
func (s *RecordStore) UpdateStatus(ctx context.Context, module types.Module, id types.RecordID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.q.InTx(ctx, func(tx *Tx) error {
		var row recordRow
		if err := tx.Get(ctx, "get-record", &row, module, id); err != nil {
			return notFound(err, module, id)
		}
		data, _, err := row.decode()
		if err != nil {
			return err
		}
		data["status"] = status

		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode record %s/%s: %w", module, id, err)
		}
		if _, err := tx.Exec(ctx, "update-record-data", string(encoded), s.now(), module, id); err != nil {
			return fmt.Errorf("update status of %s/%s: %w", module, id, err)
		}
		return nil
	})
}

func (row recordRow) decode() (map[string]any, []any, error) {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, nil, fmt.Errorf("decode record %s/%s: %w", row.Module, row.RecordID, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	tags := []any{}
	if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
		return nil, nil, fmt.Errorf("decode tags of %s/%s: %w", row.Module, row.RecordID, err)
	}
	if tags == nil {
		tags = []any{}
	}
	return data, tags, nil
}

func notFound(err error, module types.Module, id types.RecordID) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", types.ErrRecordNotFound, module, id)
	}
	return fmt.Errorf("load record %s/%s: %w", module, id, err)
}
