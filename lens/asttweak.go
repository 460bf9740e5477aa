package lens

import (
	"cmp"
	"fmt"
	"go/ast"
	"slices"

	"golang.org/x/tools/go/ast/astutil"
)

// Diagnostic reports an injection request discarded during a transform.
type Diagnostic struct {
	Request Request
	Err     error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d %s %q: %v", d.Request.Line, d.Request.Position,
		limitStringLines(d.Request.Code, 3, true), d.Err)
}

// splice is one resolved insertion into a statement list.
type splice struct {
	index  int // index of the target in the original list
	offset int // 0 before the target, 1 after
	order  int // resolution order within the list
	stmts  []ast.Stmt
}

type transformPass struct {
	tree        *FuncTree
	index       Index
	claimed     map[int]bool // lines already resolved by an inner (or earlier) statement this pass
	diagnostics []Diagnostic
}

// Transform splices every resolvable request of the index into the function tree.
// Nested statement lists are finalized before the list that owns them, so each request lands in the innermost
// list holding its target line. The tree is updated in place and returned along with one diagnostic for each
// request whose fragment could not be parsed. Requests that never match a statement are ignored.
func Transform(tree *FuncTree, index Index) (*FuncTree, []Diagnostic) {
	if tree == nil || len(index) == 0 {
		return tree, nil
	}
	p := &transformPass{
		tree:    tree,
		index:   index,
		claimed: make(map[int]bool),
	}
	astutil.Apply(tree.Decl.Body, nil, func(c *astutil.Cursor) bool {
		switch n := c.Node().(type) {
		case *ast.BlockStmt:
			n.List = p.processList(n.List)
		case *ast.CaseClause:
			n.Body = p.processList(n.Body)
		case *ast.CommClause:
			n.Body = p.processList(n.Body)
		}
		return true
	})
	return tree, p.diagnostics
}

func (p *transformPass) processList(list []ast.Stmt) []ast.Stmt {
	if len(list) == 0 || isClauseList(list) {
		return list // nothing can be placed between case clauses
	}
	plan := p.resolveList(list)
	if len(plan) == 0 {
		return list
	}
	out := spliceList(list, plan)
	p.tree.renumberList(out)
	return out
}

// isClauseList reports if the list is the body of a switch or select.
func isClauseList(list []ast.Stmt) bool {
	switch list[0].(type) {
	case *ast.CaseClause, *ast.CommClause:
		return true
	default:
		return false
	}
}

// resolveList builds the splice plan for one statement list and records markers on the targets.
func (p *transformPass) resolveList(list []ast.Stmt) []splice {
	var plan []splice
	var order int
	for i, st := range list {
		ni, ok := p.tree.info[st]
		if !ok || ni.injected || ni.origLine <= 0 {
			continue
		}
		reqs, ok := p.index[ni.origLine]
		if !ok || p.claimed[ni.origLine] {
			continue
		}
		p.claimed[ni.origLine] = true

		for _, req := range reqs {
			marker := MakeMarker(req.Line, req.Code, req.Position)
			if ni.markers.has(marker) {
				continue // already spliced on an earlier pass
			}
			stmts, err := ParseFragment(req.Code)
			if err != nil {
				p.diagnostics = append(p.diagnostics, Diagnostic{Request: req, Err: err})
				continue
			}
			anchor := p.tree.anchorFor(st, req.Position)
			for _, s := range stmts {
				p.tree.info[s] = &nodeInfo{injected: true, column: ni.column, anchor: anchor}
			}
			plan = append(plan, splice{
				index:  i,
				offset: req.Position.offset(),
				order:  order,
				stmts:  stmts,
			})
			order++
			if ni.markers == nil {
				ni.markers = make(markerSet)
			}
			ni.markers.add(marker)
		}
	}
	return plan
}

// spliceList materializes a new list from the original and the plan.
func spliceList(list []ast.Stmt, plan []splice) []ast.Stmt {
	slices.SortFunc(plan, func(a, b splice) int {
		return cmp.Or(
			cmp.Compare(a.index, b.index),
			cmp.Compare(a.offset, b.offset),
			cmp.Compare(a.order, b.order),
		)
	})
	size := len(list)
	for _, s := range plan {
		size += len(s.stmts)
	}
	out := make([]ast.Stmt, 0, size)
	var next int
	for i, st := range list {
		for next < len(plan) && plan[next].index == i && plan[next].offset == 0 {
			out = append(out, plan[next].stmts...)
			next++
		}
		out = append(out, st)
		for next < len(plan) && plan[next].index == i && plan[next].offset == 1 {
			out = append(out, plan[next].stmts...)
			next++
		}
	}
	return out
}

// renumberList assigns consecutive lines starting from the first original statement's line, or 1.
func (t *FuncTree) renumberList(list []ast.Stmt) {
	base := 1
	for _, st := range list {
		if ni, ok := t.info[st]; ok && !ni.injected && ni.line > 0 {
			base = ni.line
			break
		}
	}
	for i, st := range list {
		ni, ok := t.info[st]
		if !ok {
			ni = &nodeInfo{}
			t.info[st] = ni
		}
		ni.line = base + i
	}
}
