package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func parseDoc(t *testing.T, query string) *ast.QueryDocument {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	require.Nil(t, err)
	return doc
}

func TestQueryDepth(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"single field", `{ a }`, 1},
		{"nested 3", `{ a { b { c } } }`, 3},
		{"wide not deep", `{ a b c }`, 1},
		{"mixed depth", `{ a { b } c { d { e } } }`, 3},
		{"through fragment", `query { ...F } fragment F on Query { a { b } }`, 2},
		{"inline fragment", `{ ... on Query { a { b { c } } } }`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.query)
			got := queryDepth(doc.Operations[0].SelectionSet, doc)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryDepth_CyclicFragmentsTerminate(t *testing.T) {
	doc := parseDoc(t, `query { ...A } fragment A on Query { x { ...A } }`)
	// Must not recurse forever.
	got := queryDepth(doc.Operations[0].SelectionSet, doc)
	assert.GreaterOrEqual(t, got, 1)
}
