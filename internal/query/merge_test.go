package query

import (
	"testing"

	"github.com/pitabwire/entitystore/model"
)

func TestMerge_searchTextResetsPageAndClearsFilters(t *testing.T) {
	cur := model.QueryModel{Page: 4, PageSize: 10, Filters: map[string]any{"category": "home"}}
	next := Merge(cur, model.QueryPatch{SearchText: Ptr("foo")})

	if next.Page != 1 {
		t.Errorf("Page = %d, want 1", next.Page)
	}
	if next.SearchText != "foo" {
		t.Errorf("SearchText = %q", next.SearchText)
	}
	if len(next.Filters) != 0 {
		t.Errorf("Filters = %v, want empty", next.Filters)
	}
	if cur.Filters["category"] != "home" || cur.Page != 4 {
		t.Error("Merge mutated the current model")
	}
}

func TestMerge_fieldFilterClearsSearchText(t *testing.T) {
	q := Merge(model.DefaultQuery(), model.QueryPatch{SearchText: Ptr("foo")})
	q = Merge(q, model.QueryPatch{Filters: map[string]any{"category": "bar"}})

	if q.SearchText != "" {
		t.Errorf("SearchText = %q, want empty", q.SearchText)
	}
	if q.Filters["category"] != "bar" {
		t.Errorf("Filters = %v", q.Filters)
	}
}

func TestMerge_pageSizeResetsPage(t *testing.T) {
	cur := model.QueryModel{Page: 3, PageSize: 10}
	next := Merge(cur, model.QueryPatch{PageSize: Ptr(25), Page: Ptr(5)})

	if next.Page != 1 {
		t.Errorf("Page = %d, want 1", next.Page)
	}
	if next.PageSize != 25 {
		t.Errorf("PageSize = %d, want 25", next.PageSize)
	}
}

func TestMerge_emptySearchTextStillResetsPage(t *testing.T) {
	cur := model.QueryModel{Page: 3, PageSize: 10, Filters: map[string]any{"a": "b"}}
	next := Merge(cur, model.QueryPatch{SearchText: Ptr("")})
	if next.Page != 1 {
		t.Errorf("Page = %d, want 1", next.Page)
	}
	if next.Filters["a"] != "b" {
		t.Error("empty search text should not clear filters")
	}
}

func TestMerge_otherFieldsLeavePageUnchanged(t *testing.T) {
	cur := model.QueryModel{Page: 3, PageSize: 10}
	cases := []model.QueryPatch{
		{Live: Ptr(true)},
		{Sort: []model.SortKey{{Field: "name"}}},
		{Filters: map[string]any{"category": "x"}},
		{Where: model.Eq("a", 1)},
		{Page: Ptr(3)},
	}
	for i, p := range cases {
		if got := Merge(cur, p).Page; got != 3 {
			t.Errorf("case %d: Page = %d, want 3", i, got)
		}
	}
}

func TestMerge_emptyFilterValueRemovesKey(t *testing.T) {
	cur := model.QueryModel{Page: 1, PageSize: 10, Filters: map[string]any{"category": "home", "name": "x"}}
	next := Merge(cur, model.QueryPatch{Filters: map[string]any{"category": ""}})

	if _, ok := next.Filters["category"]; ok {
		t.Error("empty value should delete the filter")
	}
	if next.Filters["name"] != "x" {
		t.Errorf("Filters = %v", next.Filters)
	}
}

func TestMerge_emptyFilterKeepsSearchText(t *testing.T) {
	cur := model.QueryModel{Page: 1, PageSize: 10, SearchText: "foo"}
	next := Merge(cur, model.QueryPatch{Filters: map[string]any{"category": ""}})
	if next.SearchText != "foo" {
		t.Errorf("SearchText = %q, want foo", next.SearchText)
	}
}

func TestMerge_clampsPage(t *testing.T) {
	next := Merge(model.QueryModel{Page: 2, PageSize: 10}, model.QueryPatch{Page: Ptr(0), PageSize: nil})
	if next.Page != 1 {
		t.Errorf("Page = %d, want 1", next.Page)
	}
	next = Merge(model.QueryModel{Page: 2, PageSize: 10}, model.QueryPatch{PageSize: Ptr(-1)})
	if next.PageSize != 10 {
		t.Errorf("PageSize = %d, want previous 10", next.PageSize)
	}
}

func TestMerge_where(t *testing.T) {
	w := model.Eq("completed", true)
	q := Merge(model.DefaultQuery(), model.QueryPatch{Where: w})
	if q.Where != w {
		t.Fatal("Where not set")
	}
	q = Merge(q, model.QueryPatch{ClearWhere: true})
	if q.Where != nil {
		t.Error("ClearWhere did not clear")
	}
}

func TestMergeThenBuild_mutualExclusion(t *testing.T) {
	fields := []model.FieldDescriptor{{Name: "title"}, {Name: "category"}}

	q := Merge(model.DefaultQuery(), model.QueryPatch{Filters: map[string]any{"category": "a"}})
	q = Merge(q, model.QueryPatch{SearchText: Ptr("milk")})
	opts := Build(q, fields)
	if opts.Filter == nil || len(opts.Filter.Or) != 2 || len(opts.Filter.Conditions) != 0 {
		t.Errorf("search query = %+v", opts.Filter)
	}

	q = Merge(q, model.QueryPatch{Filters: map[string]any{"category": "b"}})
	opts = Build(q, fields)
	if len(opts.Filter.Or) != 0 {
		t.Errorf("field query still searching: %+v", opts.Filter)
	}
}
