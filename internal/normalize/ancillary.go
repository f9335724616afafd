package normalize

import (
	"strings"
	"time"

	"github.com/gridfeed/gridfeed/internal/registry"
)

func init() {
	register("ancillary_rt", ancillaryTransformer("realtime"))
	register("ancillary_da", ancillaryTransformer("dayahead"))
}

// ancillaryTransformer handles the wide ancillary-service price files: one
// column per service, reshaped to one row per (ts, zone, service).
func ancillaryTransformer(market string) transformer {
	return func(t *table, src *registry.Source, stampedAt time.Time, res *Result) error {
		const tag = "ancillary"
		tsCol, err := t.require(tag, "Time Stamp")
		if err != nil {
			return err
		}
		zoneCol, err := t.require(tag, "Name")
		if err != nil {
			return err
		}

		type svcCol struct {
			idx  int
			name string
		}
		var services []svcCol
		for i, name := range t.header {
			if i == tsCol || i == zoneCol {
				continue
			}
			switch normalizeHeader(name) {
			case "time zone", "ptid", "":
				continue
			}
			services = append(services, svcCol{idx: i, name: serviceType(name)})
		}
		if len(services) == 0 {
			return &SchemaError{Tag: tag, Column: "(service columns)"}
		}

		var rows []AncillaryRow
		for _, rec := range t.records {
			ts, err := ParseTimestamp(cell(rec, tsCol))
			if err != nil {
				res.Warnings++
				continue
			}
			zone := canonicalName(cell(rec, zoneCol))
			if zone == "" {
				res.Warnings++
				continue
			}
			for _, svc := range services {
				rows = append(rows, AncillaryRow{
					TS:          ts,
					Zone:        zone,
					Market:      market,
					ServiceType: svc.name,
					Price:       ParseNumber(cell(rec, svc.idx)),
				})
			}
		}

		res.Ancillary = dedupeKeyed(rows, func(r AncillaryRow) string {
			return r.TS.Format(time.RFC3339) + "|" + r.Zone + "|" + r.Market + "|" + r.ServiceType
		})
		return nil
	}
}

// serviceType strips the price unit suffix from a service column header, e.g.
// "10 Min Spinning Reserve ($/MWHr)" -> "10 Min Spinning Reserve".
func serviceType(header string) string {
	s := strings.TrimSpace(header)
	if i := strings.Index(s, "($"); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
