package eventflow

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies a command, query, event, aggregate instance, or saga
// instance. It is a thin string wrapper so every identifier in the
// pipeline shares one comparable, serializable type.
type ID string

// NewID generates a new random identifier.
func NewID() ID {
	return ID(uuid.New().String())
}

// ParseID parses s as an identifier, rejecting malformed UUIDs.
func ParseID(s string) (ID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("eventflow: invalid id %q: %w", s, err)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// IsZero reports whether id is the empty identifier.
func (id ID) IsZero() bool { return id == "" }

// Value implements driver.Valuer so an ID can be written directly by the
// postgres/mssql-backed stores in snapshot, idempotency, and mssqlstore.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner, the mirror image of Value.
func (id *ID) Scan(value any) error {
	if value == nil {
		*id = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(string(v))
	default:
		return fmt.Errorf("eventflow: cannot scan %T into ID", value)
	}
	return nil
}
