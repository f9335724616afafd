// Package normalize turns heterogeneous upstream CSV payloads into flat,
// typed records. One transformer per report shape, selected by the source's
// transformer tag.
package normalize

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridfeed/gridfeed/internal/registry"
)

// SchemaError means a required column for the family is missing; the job must
// abort before any write.
type SchemaError struct {
	Tag    string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in %s: missing required column %q", e.Tag, e.Column)
}

// transformer converts one parsed CSV into family records. stampedAt is the
// scrape-start time, used for snapshot sources whose rows carry no interval
// column.
type transformer func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error

// transformers dispatches by tag. Tags are the canonical form of the source
// code (RT-LBMP -> rt_lbmp), so the registry needs no extra field.
var transformers = map[string]transformer{}

func register(tag string, fn transformer) {
	if _, dup := transformers[tag]; dup {
		panic(fmt.Sprintf("duplicate transformer tag %q", tag))
	}
	transformers[tag] = fn
}

// Known reports whether a transformer exists for the tag.
func Known(tag string) bool {
	_, ok := transformers[tag]
	return ok
}

// Normalize parses the payload and runs the source's transformer. Unknown
// columns are ignored; rows with unparseable timestamps are skipped and
// counted in Result.Warnings; a missing required column is a SchemaError.
func Normalize(src *registry.Source, data []byte, stampedAt time.Time) (*Result, error) {
	fn, ok := transformers[src.TransformerTag]
	if !ok {
		return nil, &SchemaError{Tag: src.TransformerTag, Column: "(no transformer registered)"}
	}

	t, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Code, err)
	}

	res := &Result{}
	if err := fn(t, src, stampedAt, res); err != nil {
		return nil, err
	}

	if res.Warnings > 0 {
		log.Warn().
			Str("source", src.Code).
			Int("warnings", res.Warnings).
			Int("rows", res.RowCount()).
			Msg("normalization skipped malformed rows")
	}
	return res, nil
}
