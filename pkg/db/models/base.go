package models

import "github.com/google/uuid"

// ensureID assigns a fresh id when the caller did not provide one.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
