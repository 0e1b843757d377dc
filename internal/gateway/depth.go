package gateway

import "github.com/vektah/gqlparser/v2/ast"

// maxQueryDepth rejects pathologically nested queries before they fan
// out to subgraphs. Deep enough for every known frontend query.
const maxQueryDepth = 15

// queryDepth computes the deepest selection-set nesting level,
// resolving fragment spreads against the document.
func queryDepth(sel ast.SelectionSet, doc *ast.QueryDocument) int {
	return depthWalk(sel, doc, map[string]bool{})
}

func depthWalk(sel ast.SelectionSet, doc *ast.QueryDocument, visiting map[string]bool) int {
	if len(sel) == 0 {
		return 0
	}
	maxChild := 0
	for _, s := range sel {
		var childDepth int
		switch s := s.(type) {
		case *ast.Field:
			childDepth = 1 + depthWalk(s.SelectionSet, doc, visiting)
		case *ast.InlineFragment:
			childDepth = depthWalk(s.SelectionSet, doc, visiting)
		case *ast.FragmentSpread:
			if visiting[s.Name] {
				continue // cyclic spread, rejected by subgraphs anyway
			}
			if frag := doc.Fragments.ForName(s.Name); frag != nil {
				visiting[s.Name] = true
				childDepth = depthWalk(frag.SelectionSet, doc, visiting)
				delete(visiting, s.Name)
			}
		}
		if childDepth > maxChild {
			maxChild = childDepth
		}
	}
	return maxChild
}
