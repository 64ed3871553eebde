package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateConnectionString(t *testing.T) {
	connStr, err := GenerateConnectionString("localhost", "sync", "secret", "syncdb", "disable", 5432, 10, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "host=localhost port=5432 user=sync password=secret dbname=syncdb sslmode=disable connect_timeout=5 pool_max_conns=10", connStr)
}

func TestGenerateConnectionStringOmitsOptionalParts(t *testing.T) {
	connStr, err := GenerateConnectionString("localhost", "sync", "secret", "syncdb", "disable", 5432, 0, 0)
	require.NoError(t, err)
	assert.NotContains(t, connStr, "connect_timeout")
	assert.NotContains(t, connStr, "pool_max_conns")
}

func TestGenerateConnectionStringValidation(t *testing.T) {
	cases := []struct {
		name string
		run  func() (string, error)
		want error
	}{
		{"empty_host", func() (string, error) {
			return GenerateConnectionString("", "u", "p", "db", "disable", 5432, 0, 0)
		}, ErrStorageEmptyHostName},
		{"bad_port", func() (string, error) {
			return GenerateConnectionString("h", "u", "p", "db", "disable", 70000, 0, 0)
		}, ErrStorageInvalidPortNumber},
		{"empty_user", func() (string, error) {
			return GenerateConnectionString("h", "", "p", "db", "disable", 5432, 0, 0)
		}, ErrStorageEmptyUsername},
		{"empty_password", func() (string, error) {
			return GenerateConnectionString("h", "u", "", "db", "disable", 5432, 0, 0)
		}, ErrStorageEmptyPassword},
		{"empty_db", func() (string, error) {
			return GenerateConnectionString("h", "u", "p", "", "disable", 5432, 0, 0)
		}, ErrStorageInvalidDatabaseName},
		{"empty_sslmode", func() (string, error) {
			return GenerateConnectionString("h", "u", "p", "db", "", 5432, 0, 0)
		}, ErrStorageInvalidSslMode},
		{"negative_pool", func() (string, error) {
			return GenerateConnectionString("h", "u", "p", "db", "disable", 5432, -1, 0)
		}, ErrStorageInvalidPoolSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.run()
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
