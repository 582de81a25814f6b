// Package matchindex implements the multi-expression tag matcher: a
// decision structure compiling disjunctions of tag predicates into an
// inverted index keyed by the (key,value) pairs that drive matching, so a
// profile looks up only the clauses a feature's own tags touch. Each Match
// also makes one pass over all compiled clauses to pick up empty ones.
package matchindex

import "fmt"

// Predicate requires tag Key to equal Value, or — when AnyValue is set —
// merely to be present with any value.
type Predicate struct {
	Key      string
	Value    string
	AnyValue bool
}

// Clause is a conjunction: satisfied when every Predicate in it holds.
type Clause []Predicate

// Expression labels a disjunction of Clauses: it matches a feature when at
// least one Clause is fully satisfied.
type Expression struct {
	Label   string
	Clauses []Clause
}

type clauseRef struct {
	expr, clause int
}

// Index is the compiled form of a set of Expressions.
type Index struct {
	exprs      []Expression
	byKV       map[string]map[string][]clauseRef
	byKeyAny   map[string][]clauseRef
	clauseSize map[clauseRef]int
}

// New compiles exprs into an Index.
func New(exprs []Expression) *Index {
	idx := &Index{
		exprs:      exprs,
		byKV:       make(map[string]map[string][]clauseRef),
		byKeyAny:   make(map[string][]clauseRef),
		clauseSize: make(map[clauseRef]int),
	}
	for ei, e := range exprs {
		for ci, clause := range e.Clauses {
			ref := clauseRef{expr: ei, clause: ci}
			idx.clauseSize[ref] = len(clause)
			for _, p := range clause {
				if p.AnyValue {
					idx.byKeyAny[p.Key] = append(idx.byKeyAny[p.Key], ref)
					continue
				}
				if idx.byKV[p.Key] == nil {
					idx.byKV[p.Key] = make(map[string][]clauseRef)
				}
				idx.byKV[p.Key][p.Value] = append(idx.byKV[p.Key][p.Value], ref)
			}
		}
	}
	return idx
}

// Match returns the labels of every Expression with at least one fully
// satisfied Clause against tags. Order is not significant. Each matching
// Expression contributes its label once, even when several of its Clauses
// match; distinct Expressions sharing a Label each contribute it.
func (idx *Index) Match(tags map[string]interface{}) []string {
	satisfied := make(map[clauseRef]int)
	matchedExpr := make(map[int]bool, len(idx.exprs))
	var out []string

	// An empty Clause is vacuously satisfied and never gets incremented below.
	for ref, size := range idx.clauseSize {
		if size == 0 && !matchedExpr[ref.expr] {
			matchedExpr[ref.expr] = true
			out = append(out, idx.exprs[ref.expr].Label)
		}
	}

	mark := func(refs []clauseRef) {
		for _, ref := range refs {
			if matchedExpr[ref.expr] {
				continue
			}
			satisfied[ref]++
			if satisfied[ref] == idx.clauseSize[ref] {
				matchedExpr[ref.expr] = true
				out = append(out, idx.exprs[ref.expr].Label)
			}
		}
	}

	for k, v := range tags {
		sv := toString(v)
		if byVal, ok := idx.byKV[k]; ok {
			mark(byVal[sv])
		}
		mark(idx.byKeyAny[k])
	}
	return out
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
