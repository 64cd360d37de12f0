// Package search runs one free-text query across every entity type and
// merges the hits into a single ranked page.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/entitystore/internal/metadata"
	"github.com/pitabwire/entitystore/internal/query"
	"github.com/pitabwire/entitystore/internal/store"
	"github.com/pitabwire/entitystore/model"
)

// Defaults.
const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxPerType = 50
	DefaultPageSize   = 20
	MaxPageSize       = 50
	MinQueryLength    = 2
)

// Entity type outcomes reported in Response.Entities.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Result is one matching record.
type Result struct {
	Entity   string       `json:"entity"`
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Subtitle string       `json:"subtitle,omitempty"`
	Score    float64      `json:"score"`
	Item     model.Entity `json:"item"`
}

// Response is a page of merged results. Entities maps every searched entity
// type to its outcome so callers can tell an empty answer from a failed one.
type Response struct {
	Query    string            `json:"query"`
	Results  []Result          `json:"results"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Entities map[string]string `json:"entities"`
}

// Request selects what to search.
type Request struct {
	Text     string
	Entity   string // restricts the search to one type when set
	Page     int
	PageSize int
}

// Searcher fans a query out to the repository of each entity type.
type Searcher struct {
	metadata   *metadata.Registry
	source     store.RepositorySource
	timeout    time.Duration
	maxPerType int
	logger     *zap.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithTimeout bounds the query against each entity type.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxPerType caps the hits taken from each entity type.
func WithMaxPerType(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.maxPerType = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Searcher over the entity types known to meta.
func New(meta *metadata.Registry, source store.RepositorySource, opts ...Option) *Searcher {
	s := &Searcher{
		metadata:   meta,
		source:     source,
		timeout:    DefaultTimeout,
		maxPerType: DefaultMaxPerType,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type outcome struct {
	entity  string
	status  string
	results []Result
}

// Search runs req. A failing or slow entity type is reported in
// Response.Entities and does not fail the whole search.
func (s *Searcher) Search(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(req.Text)
	if len([]rune(text)) < MinQueryLength {
		return Response{}, model.NewBadRequestError("search text must be at least 2 characters")
	}
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	if req.PageSize > MaxPageSize {
		req.PageSize = MaxPageSize
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	var targets []model.EntityMetadata
	for _, name := range s.metadata.Types() {
		if req.Entity != "" && name != req.Entity {
			continue
		}
		meta, ok := s.metadata.Entity(name)
		if ok && hasSearchable(meta) {
			targets = append(targets, meta)
		}
	}
	if req.Entity != "" && len(targets) == 0 {
		return Response{}, model.NewNotFoundError("entity type " + req.Entity + " is not searchable")
	}

	outcomes := make([]outcome, len(targets))
	var g errgroup.Group
	for i, meta := range targets {
		g.Go(func() error {
			outcomes[i] = s.searchEntity(ctx, meta, text)
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{
		Query:    text,
		Page:     req.Page,
		PageSize: req.PageSize,
		Entities: make(map[string]string, len(outcomes)),
	}
	var merged []Result
	for _, o := range outcomes {
		resp.Entities[o.entity] = o.status
		merged = append(merged, o.results...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].Entity != merged[j].Entity {
			return merged[i].Entity < merged[j].Entity
		}
		return merged[i].ID < merged[j].ID
	})

	resp.Total = len(merged)
	offset := (req.Page - 1) * req.PageSize
	if offset < len(merged) {
		end := min(offset+req.PageSize, len(merged))
		resp.Results = merged[offset:end]
	} else {
		resp.Results = []Result{}
	}
	return resp, nil
}

func (s *Searcher) searchEntity(ctx context.Context, meta model.EntityMetadata, text string) outcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := outcome{entity: meta.Name, status: StatusOK}
	repo, err := s.source.Repository(ctx, meta.Name)
	if err == nil {
		var items []model.Entity
		opts := query.Build(model.QueryModel{Page: 1, PageSize: s.maxPerType, SearchText: text, Sort: meta.DefaultSort}, meta.Fields)
		items, err = repo.Find(ctx, opts)
		if err == nil {
			out.results = rank(meta, items, text)
			return out
		}
	}

	out.status = StatusError
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.status = StatusTimeout
	}
	s.logger.Warn("entity search failed",
		zap.String("entity", meta.Name),
		zap.String("status", out.status),
		zap.Error(err),
	)
	return out
}

// rank scores hits by position, 1.0 at the top falling to 0.5 at the
// bottom, with a bonus when the title itself matches.
func rank(meta model.EntityMetadata, items []model.Entity, text string) []Result {
	titleField, subtitleField := displayFields(meta)
	needle := strings.ToLower(text)

	results := make([]Result, 0, len(items))
	for i, it := range items {
		score := 1.0
		if len(items) > 1 {
			score -= float64(i) / float64(len(items)) * 0.5
		}

		title := stringValue(it[titleField])
		if title == "" {
			title = it.ID()
		}
		if strings.Contains(strings.ToLower(title), needle) {
			score += 0.5
		}

		results = append(results, Result{
			Entity:   meta.Name,
			ID:       it.ID(),
			Title:    title,
			Subtitle: stringValue(it[subtitleField]),
			Score:    score,
			Item:     it,
		})
	}
	return results
}

// displayFields picks the first two searchable text fields.
func displayFields(meta model.EntityMetadata) (title, subtitle string) {
	for _, f := range meta.Fields {
		if f.Name == model.IDField || !f.Searchable() || f.ValueType() != model.TypeString {
			continue
		}
		switch {
		case title == "":
			title = f.Name
		case subtitle == "":
			subtitle = f.Name
			return title, subtitle
		}
	}
	return title, subtitle
}

func hasSearchable(meta model.EntityMetadata) bool {
	for _, f := range meta.Fields {
		if f.Searchable() {
			return true
		}
	}
	return false
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
