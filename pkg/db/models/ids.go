package models

import "github.com/google/uuid"

// ensureID assigns a random id when the row is created without one. Postgres
// has column defaults for this; sqlite does not.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
