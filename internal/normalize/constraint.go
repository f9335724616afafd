package normalize

import (
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("constraints_rt", constraintTransformer("realtime"))
	register("constraints_da", constraintTransformer("dayahead"))
}

// constraintTransformer handles the limiting-constraints files for either
// market. Binding defaults to "shadow price is nonzero" when the file carries
// no explicit flag.
func constraintTransformer(market string) transformer {
	return func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
		const tag = "constraints"
		tsCol, err := t.require(tag, "Time Stamp")
		if err != nil {
			return err
		}
		nameCol, err := t.require(tag, "Constraint Name", "Facility Name")
		if err != nil {
			return err
		}
		shadowCol, err := t.require(tag, "Shadow Price ($/MWHr)", "Constraint Cost ($)", "Shadow Price")
		if err != nil {
			return err
		}
		limitCol, hasLimit := t.col("Limit (MWH)", "Constraint Limit", "Limit (MW)")
		flowCol, hasFlow := t.col("Flow (MWH)", "Constraint Flow", "Flow (MW)")
		bindCol, hasBind := t.col("Binding")

		var rows []ConstraintRow
		for _, rec := range t.records {
			ts, err := ParseTimestamp(cell(rec, tsCol))
			if err != nil {
				res.Warnings++
				continue
			}
			name := canonicalName(cell(rec, nameCol))
			if name == "" {
				res.Warnings++
				continue
			}

			row := ConstraintRow{
				TS:             ts,
				Market:         market,
				ConstraintName: name,
				ShadowPrice:    ParseNumber(cell(rec, shadowCol)),
			}
			if hasLimit {
				row.LimitMW = ParseNumber(cell(rec, limitCol))
			}
			if hasFlow {
				row.FlowMW = ParseNumber(cell(rec, flowCol))
			}
			if hasBind {
				row.Binding = parseBool(cell(rec, bindCol))
			} else {
				row.Binding = row.ShadowPrice != nil && *row.ShadowPrice != 0
			}
			rows = append(rows, row)
		}

		res.Constraints = dedupeKeyed(rows, func(r ConstraintRow) string {
			return r.TS.Format(time.RFC3339) + "|" + r.ConstraintName + "|" + r.Market
		})
		return nil
	}
}

func parseBool(s string) bool {
	switch canonicalName(s) {
	case "Y", "YES", "TRUE", "1":
		return true
	}
	return false
}
