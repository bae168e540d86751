package macro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asakaida/rowguard/internal/entities"
)

func TestValidate_Accepts(t *testing.T) {
	valid := []*entities.Macro{
		{Name: "always", SQLQuery: "SELECT true"},
		{Name: "always_semicolon", SQLQuery: "select 1;"},
		{
			Name:       "is_member",
			SQLQuery:   "SELECT EXISTS(SELECT 1 FROM group_members WHERE group_name = $1 AND user_id = $2)",
			Parameters: []string{"group", "user_id"},
		},
		{
			Name:       "recent",
			SQLQuery:   "SELECT updated_at > NOW() - INTERVAL '1 day' FROM posts WHERE id = $1 OFFSET 0",
			Parameters: []string{"post_id"},
		},
	}

	for _, m := range valid {
		t.Run(m.Name, func(t *testing.T) {
			assert.NoError(t, Validate(m))
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		macro *entities.Macro
	}{
		{"bad name", &entities.Macro{Name: "is-member", SQLQuery: "SELECT 1"}},
		{"empty name", &entities.Macro{Name: "", SQLQuery: "SELECT 1"}},
		{"builtin text name", &entities.Macro{Name: "owns_record", SQLQuery: "SELECT 1"}},
		{"builtin predicate name", &entities.Macro{Name: "has_group", SQLQuery: "SELECT 1"}},
		{"context root name", &entities.Macro{Name: "request", SQLQuery: "SELECT 1"}},
		{"empty query", &entities.Macro{Name: "m", SQLQuery: "  "}},
		{"not select", &entities.Macro{Name: "m", SQLQuery: "WITH x AS (SELECT 1) SELECT * FROM x"}},
		{"delete", &entities.Macro{Name: "m", SQLQuery: "DELETE FROM posts"}},
		{"hidden update", &entities.Macro{Name: "m", SQLQuery: "SELECT 1 FROM posts WHERE id IN (UPDATE posts SET x = 1 RETURNING id)"}},
		{"select into", &entities.Macro{Name: "m", SQLQuery: "SELECT * INTO copy FROM posts"}},
		{"stacked", &entities.Macro{Name: "m", SQLQuery: "SELECT 1; DROP TABLE posts"}},
		{"comment", &entities.Macro{Name: "m", SQLQuery: "SELECT 1 -- sneaky"}},
		{"placeholder out of range", &entities.Macro{Name: "m", SQLQuery: "SELECT $2", Parameters: []string{"a"}}},
		{"placeholder zero", &entities.Macro{Name: "m", SQLQuery: "SELECT $0"}},
		{"duplicate parameter", &entities.Macro{Name: "m", SQLQuery: "SELECT $1", Parameters: []string{"a", "a"}}},
		{"bad parameter", &entities.Macro{Name: "m", SQLQuery: "SELECT $1", Parameters: []string{"a b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.macro)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMacro))

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.macro.Name, vErr.Name)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Validate(&entities.Macro{
		Name:       "bad name",
		SQLQuery:   "UPDATE posts SET a = $3; DROP TABLE posts",
		Parameters: []string{"x"},
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	// name, statement count, SELECT, UPDATE, SET, DROP, placeholder
	assert.Len(t, vErr.Errors.Errors, 7)
}

func TestValidate_KeywordsMatchWholeTokens(t *testing.T) {
	m := &entities.Macro{
		Name:     "fields",
		SQLQuery: "SELECT update_fields, created_at, deleted FROM collection_rules WHERE collection = 'posts'",
	}
	assert.NoError(t, Validate(m))
}
