// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid generates the time-ordered identifiers used across Schedula.

Account ids, refresh-token record ids, token `jti` values and request ids are
all Version 7 UUIDs, so new rows land at the right edge of the B-tree index.
*/
package uuid

import "github.com/google/uuid"

// New returns a UUIDv7 string. It panics only if the system entropy source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic("uuid: generate v7: " + err.Error())
	}
	return id.String()
}

