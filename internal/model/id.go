package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// TempPrefix marks placeholder message ids created before server confirmation.
	TempPrefix = "temp-"
	// GroupPrefix namespaces synthesized group conversation ids.
	GroupPrefix = "group_"
)

// ID is an opaque identifier. The server sends numbers for some ids and
// strings for others, so both are accepted and kept as strings.
type ID string

// UnmarshalJSON accepts a JSON string, a JSON number, or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// NewTempID returns a fresh placeholder message id.
func NewTempID() ID {
	return ID(TempPrefix + uuid.NewString())
}

// IsTemporary reports whether id is a placeholder id.
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(string(id), TempPrefix)
}

// GroupID namespaces a server group id so it cannot collide with a 1:1 connection id.
func GroupID(raw ID) ID {
	if strings.HasPrefix(string(raw), GroupPrefix) {
		return raw
	}
	return ID(GroupPrefix + string(raw))
}

// IsGroup reports whether id is a synthesized group conversation id.
func (id ID) IsGroup() bool {
	return strings.HasPrefix(string(id), GroupPrefix)
}
