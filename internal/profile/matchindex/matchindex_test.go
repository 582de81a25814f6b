package matchindex

import (
	"sort"
	"testing"
)

func TestIndex_Match_ExactValue(t *testing.T) {
	idx := New([]Expression{
		{Label: "road", Clauses: []Clause{
			{{Key: "highway", Value: "residential"}},
			{{Key: "highway", Value: "primary"}},
		}},
		{Label: "water", Clauses: []Clause{
			{{Key: "natural", Value: "water"}},
		}},
	})

	got := idx.Match(map[string]interface{}{"highway": "primary", "lanes": "2"})
	if len(got) != 1 || got[0] != "road" {
		t.Errorf("Match = %v, want [road]", got)
	}
}

func TestIndex_Match_Conjunction(t *testing.T) {
	idx := New([]Expression{
		{Label: "toll_motorway", Clauses: []Clause{
			{{Key: "highway", Value: "motorway"}, {Key: "toll", Value: "yes"}},
		}},
	})

	if got := idx.Match(map[string]interface{}{"highway": "motorway"}); len(got) != 0 {
		t.Errorf("Match with partial conjunction = %v, want none", got)
	}
	if got := idx.Match(map[string]interface{}{"highway": "motorway", "toll": "yes"}); len(got) != 1 {
		t.Errorf("Match with full conjunction = %v, want [toll_motorway]", got)
	}
}

func TestIndex_Match_AnyValue(t *testing.T) {
	idx := New([]Expression{
		{Label: "named", Clauses: []Clause{{{Key: "name", AnyValue: true}}}},
	})
	if got := idx.Match(map[string]interface{}{"name": "Bahnhofstrasse"}); len(got) != 1 {
		t.Errorf("Match(name present) = %v, want [named]", got)
	}
	if got := idx.Match(map[string]interface{}{"highway": "path"}); len(got) != 0 {
		t.Errorf("Match(name absent) = %v, want none", got)
	}
}

func TestIndex_Match_NonStringTagValue(t *testing.T) {
	idx := New([]Expression{
		{Label: "layered", Clauses: []Clause{{{Key: "layer", Value: "1"}}}},
	})
	if got := idx.Match(map[string]interface{}{"layer": int64(1)}); len(got) != 1 {
		t.Errorf("Match(layer=int64(1)) = %v, want [layered]", got)
	}
}

func TestIndex_Match_MultipleExpressionsOneFeature(t *testing.T) {
	idx := New([]Expression{
		{Label: "road", Clauses: []Clause{{{Key: "highway", AnyValue: true}}}},
		{Label: "named", Clauses: []Clause{{{Key: "name", AnyValue: true}}}},
	})
	got := idx.Match(map[string]interface{}{"highway": "residential", "name": "Main St"})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "named" || got[1] != "road" {
		t.Errorf("Match = %v, want [named road]", got)
	}
}
