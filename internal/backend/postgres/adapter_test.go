package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multidb-router/backend/internal/backend"
)

func TestLooksExecutable(t *testing.T) {
	executable := []string{
		"SELECT * FROM orders",
		"  select id from users",
		"INSERT INTO orders (id) VALUES (1)",
		"UPDATE users SET name = 'x'",
		"DELETE FROM users WHERE id = 1",
		"CREATE TABLE t (id int)",
		"DROP INDEX idx_orders",
		"ALTER TABLE users ADD COLUMN age int",
		"TRUNCATE sessions",
		"WITH recent AS (SELECT 1) SELECT * FROM recent",
		"EXPLAIN SELECT * FROM orders",
	}
	for _, sql := range executable {
		assert.True(t, looksExecutable(sql), "expected executable: %s", sql)
	}

	notExecutable := []string{
		"show me everything in the orders table",
		"how many rows are there",
		"",
		"-- just a comment",
	}
	for _, sql := range notExecutable {
		assert.False(t, looksExecutable(sql), "expected not executable: %s", sql)
	}
}

func TestExplainStatement(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare select gains explain",
			in:   "SELECT * FROM orders",
			want: "EXPLAIN SELECT * FROM orders",
		},
		{
			name: "explicit explain passes through",
			in:   "EXPLAIN SELECT * FROM orders",
			want: "EXPLAIN SELECT * FROM orders",
		},
		{
			name: "explain analyze passes through",
			in:   "EXPLAIN ANALYZE DELETE FROM users WHERE active = false",
			want: "EXPLAIN ANALYZE DELETE FROM users WHERE active = false",
		},
		{
			name: "cte",
			in:   "WITH recent AS (SELECT 1) SELECT * FROM recent",
			want: "EXPLAIN WITH recent AS (SELECT 1) SELECT * FROM recent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := explainStatement(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExplainStatementRejectsProse(t *testing.T) {
	prose := []string{
		"analyze the orders table",
		"explain how the orders table works",
		"tell me about orders",
		"",
	}
	for _, in := range prose {
		_, err := explainStatement(in)
		require.Error(t, err, "expected rejection: %s", in)
		assert.True(t, backend.IsKind(err, backend.KindExecutionError))
	}
}

