// Package store persists jobs and tasks and enforces the job state machine.
// All mutations are atomic at the level of a single job transition; creating
// a composite job with its children is the one multi-row operation and runs
// in a transaction. The store never caches job state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"rackops/internal/kinds"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
)

// MaxDetailsBytes caps the details payload at creation; it bounds both
// storage growth and signature-computation cost on the auth path.
const MaxDetailsBytes = 10 * 1024

// Target scope fields whose values are lists of target identifiers.
var targetListFields = []string{"server_ids", "host_ids", "volume_ids"}

const jobColumns = `id, kind, status, target_scope, details, created_by, created_at, started_at, completed_at, schedule_at, parent_job_id, component_order`

const taskColumns = `id, job_id, target_id, status, progress, log, created_at, started_at, completed_at`

type Store struct {
	db    *sqlx.DB
	kinds *kinds.Registry
}

func New(db *sqlx.DB, registry *kinds.Registry) *Store {
	return &Store{db: db, kinds: registry}
}

// Kinds exposes the registry so maintenance components share one table.
func (s *Store) Kinds() *kinds.Registry {
	return s.kinds
}

// validateTargetScope checks that every recognized identifier list contains
// only well-formed UUIDs. Unrecognized fields pass through opaquely.
func validateTargetScope(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var scope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &scope); err != nil {
		return fmt.Errorf("%w: target_scope must be an object", ErrValidation)
	}
	for _, field := range targetListFields {
		raw, ok := scope[field]
		if !ok {
			continue
		}
		var ids []string
		if err := json.Unmarshal(raw, &ids); err != nil {
			return fmt.Errorf("%w: target_scope.%s must be a list of identifiers", ErrValidation, field)
		}
		for _, id := range ids {
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("%w: target_scope.%s contains malformed identifier %q", ErrValidation, field, id)
			}
		}
	}
	return nil
}

// validateDetails checks size and shape; details must be a JSON object so
// later patches can merge into it.
func validateDetails(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > MaxDetailsBytes {
		return fmt.Errorf("%w: details exceeds %d bytes", ErrValidation, MaxDetailsBytes)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("%w: details must be an object", ErrValidation)
	}
	return nil
}

func orBraces(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
