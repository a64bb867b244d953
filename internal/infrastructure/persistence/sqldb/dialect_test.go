package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	query := "UPDATE workflow SET current_workflow_state = ?, note = '?' WHERE workflow_id = ? AND version = ?"

	assert.Equal(t, query, DialectSQLite.Rebind(query))
	assert.Equal(t, query, DialectMySQL.Rebind(query))
	assert.Equal(t,
		"UPDATE workflow SET current_workflow_state = $1, note = '?' WHERE workflow_id = $2 AND version = $3",
		DialectPostgres.Rebind(query))
}

func TestDialect_ForUpdate(t *testing.T) {
	assert.Empty(t, DialectSQLite.ForUpdate())
	assert.Equal(t, " FOR UPDATE", DialectPostgres.ForUpdate())
	assert.Equal(t, " FOR UPDATE", DialectMySQL.ForUpdate())
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		driver  string
		want    Dialect
		wantErr bool
	}{
		{"", DialectSQLite, false},
		{"sqlite", DialectSQLite, false},
		{"sqlite3", DialectSQLite, false},
		{"postgres", DialectPostgres, false},
		{"PostgreSQL", DialectPostgres, false},
		{"mysql", DialectMySQL, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			got, err := ParseDialect(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
