package types

import (
	"time"

	"github.com/google/uuid"
)

// RuleID identifies a rule. UUIDv7 for rules created by RuleKeeper; imported
// rules may carry any non-empty string.
type RuleID string

// RecordID identifies a record within its module.
type RecordID string

// ExecutionID identifies one execution log entry.
type ExecutionID string

// NewRuleID generates a UUIDv7 rule identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewRuleID() RuleID {
	return RuleID(uuid.Must(uuid.NewV7()).String())
}

// NewExecutionID generates a UUIDv7 execution identifier.
// Time-ordered IDs keep execution history inserts clustered in B-tree pages.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.Must(uuid.NewV7()).String())
}

// NewItemID generates a UUIDv7 identifier for conditions, actions and
// records created by action handlers (tasks, notifications).
func NewItemID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ParseRuleID validates and converts a string to RuleID.
// Rejects malformed UUIDs to prevent invalid IDs from entering the store.
func ParseRuleID(s string) (RuleID, error) {
	_, err := uuid.Parse(s)
	if err != nil {
		return "", err
	}
	return RuleID(s), nil
}

// ExecutionIDTime extracts the timestamp embedded in a UUIDv7 ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func ExecutionIDTime(id ExecutionID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
