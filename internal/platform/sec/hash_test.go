// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("Test123!@#", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("Test123!@#", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
	assert.False(t, CheckPasswordHash("Test123!@#", "not-a-hash"))
}

func TestHashPassword_InvalidCostFallsBack(t *testing.T) {
	hash, err := HashPassword("pw", 99)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}

func TestRoles(t *testing.T) {
	role, ok := ParseRole(" customer ")
	assert.True(t, ok)
	assert.Equal(t, RoleCustomer, role)

	_, ok = ParseRole("superuser")
	assert.False(t, ok)

	assert.Equal(t, "employee", RoleEmployee.Audience())
	assert.True(t, RoleAdmin.AtLeast(RoleEmployee))
	assert.False(t, RoleCustomer.AtLeast(RoleAdmin))
}
