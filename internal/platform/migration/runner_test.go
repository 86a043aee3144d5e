// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToPgx5DSN(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@h:5432/db?sslmode=disable": "pgx5://u:p@h:5432/db?sslmode=disable",
		"postgresql://u@h/db":                      "pgx5://u@h/db",
		"pgx5://u@h/db":                            "pgx5://u@h/db",
		"host=h dbname=db":                         "host=h dbname=db",
	}
	for in, want := range tests {
		assert.Equal(t, want, convertToPgx5DSN(in), in)
	}
}
