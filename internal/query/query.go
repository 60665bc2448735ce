// Package query implements the line-oriented path and filter language used to search
// a store's records.
//
// A query is one or more stages, one per line. A stage is a chain of segments:
//
//	orders[total>10]:fulfillments[status=shipped]
//
// The first segment names a stored type. Later segments name nested fields or
// related stored types, which are joined in from storage. The character between two
// segments is the quantifier applied to the second: ':' some, '&' all (non-empty),
// '*' none. Each stage narrows the records that survived the previous one.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/tehaksbrid/shop-databaser/internal/models"
)

// Reader loads the current records of a type.
type Reader interface {
	Read(ctx context.Context, t models.DataType) ([]models.Record, error)
}

// Result is the outcome of a successful query.
type Result struct {
	Message  string          `json:"message"`
	Duration time.Duration   `json:"duration"`
	Store    models.StoreRef `json:"store"`
	Type     models.DataType `json:"type"`
	Query    string          `json:"query"`
	Records  []models.Record `json:"records"`
}

// Engine runs queries against one store.
type Engine struct {
	reader Reader
	store  models.StoreRef
	now    func() time.Time
}

// NewEngine creates a query engine reading from r.
func NewEngine(r Reader, store models.StoreRef) *Engine {
	return &Engine{reader: r, store: store, now: time.Now}
}

type plannedStage struct {
	Stage
	primary models.DataType
	joins   []joinStep
}

// Run parses and evaluates q. Any parse or join error aborts the whole query.
func (e *Engine) Run(ctx context.Context, q string) (*Result, error) {
	start := e.now()

	stages, err := Parse(q)
	if err != nil {
		return nil, err
	}

	plan := make([]plannedStage, 0, len(stages))
	for _, st := range stages {
		primary, ok := models.ParseDataType(st.Segments[0].Name)
		if !ok {
			return nil, &Error{Kind: KindUnknownType, Token: st.Segments[0].Name}
		}
		joins, err := planJoins(st.Segments)
		if err != nil {
			return nil, err
		}
		plan = append(plan, plannedStage{Stage: st, primary: primary, joins: joins})
	}

	var records []models.Record
	for i, st := range plan {
		if i == 0 {
			records, err = e.reader.Read(ctx, st.primary)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", st.primary, err)
			}
		}

		for _, j := range st.joins {
			children, err := e.reader.Read(ctx, j.Child)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", j.Child, err)
			}
			records = attach(records, j, children)
		}

		survivors := make([]models.Record, 0, len(records))
		for _, r := range records {
			if matches(r, st.Segments, 0) {
				survivors = append(survivors, r)
			}
		}
		records = survivors
	}

	elapsed := e.now().Sub(start)
	last := plan[len(plan)-1]
	return &Result{
		Message:  fmt.Sprintf("%d results retrieved in %.2fs", len(records), elapsed.Seconds()),
		Duration: elapsed,
		Store:    e.store,
		Type:     last.primary,
		Query:    q,
		Records:  records,
	}, nil
}
