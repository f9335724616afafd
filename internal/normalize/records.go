package normalize

import "time"

// Records are the flat rows a transformer emits, one slice per semantic
// family. Zone and interface references are still names here; the writer
// interns them into surrogate ids at commit time. Pointer-typed measurements
// distinguish "source cell was empty" (nil) from zero.

// LBMPRow is one locational price observation (real-time, day-ahead or
// time-weighted; the three families share a shape).
type LBMPRow struct {
	TS   time.Time
	Zone string
	LBMP *float64
	MCC  *float64 // marginal cost congestion
	MCL  *float64 // marginal cost losses
}

// LoadRow is one 5-minute actual load observation.
type LoadRow struct {
	TS     time.Time
	Zone   string
	LoadMW *float64
}

// LoadForecastRow is one forecast value for a target hour and zone.
type LoadForecastRow struct {
	TS         time.Time // target hour
	Zone       string
	ForecastMW *float64
}

// InterfaceFlowRow is one interface flow observation with its limits.
type InterfaceFlowRow struct {
	TS         time.Time
	Interface  string
	FlowMW     *float64
	PosLimitMW *float64
	NegLimitMW *float64
}

// AncillaryRow is one ancillary-service price.
type AncillaryRow struct {
	TS          time.Time
	Zone        string
	Market      string // realtime | dayahead
	ServiceType string
	Price       *float64
}

// ConstraintRow is one limiting-constraint observation.
type ConstraintRow struct {
	TS             time.Time
	Market         string
	ConstraintName string
	ShadowPrice    *float64
	Binding        bool
	LimitMW        *float64
	FlowMW         *float64
}

// ExternalRTOPriceRow is one cross-market price comparison row. TS is the
// interval end time.
type ExternalRTOPriceRow struct {
	TS        time.Time
	RTO       string
	RTCPrice  *float64
	CTSPrice  *float64
	PriceDiff *float64
}

// ATCTTCRow is one transfer-capability forecast for an interface direction.
type ATCTTCRow struct {
	TS           time.Time
	Interface    string
	ForecastType string
	ATCMW        *float64
	TTCMW        *float64
	TRMMW        *float64
	Direction    string
}

// OutageRow is one scheduled or forced outage record.
type OutageRow struct {
	TS           time.Time
	OutageType   string
	Market       string
	ResourceName string
	ResourceType string
	MWCapacity   *float64
	MWOutage     *float64
	Start        *time.Time
	End          *time.Time
	Status       string
}

// WeatherRow is one weather forecast vintage for a station.
type WeatherRow struct {
	TS         time.Time // target instant
	ForecastTS time.Time // vintage
	Location   string
	TempF      *float64
	Humidity   *float64
	WindMPH    *float64
	WindDir    string
	CloudPct   *float64
}

// FuelMixRow is one fuel category's generation share at an instant.
type FuelMixRow struct {
	TS           time.Time
	FuelType     string
	GenerationMW *float64
	Pct          *float64
}

// AdvisoryRow is one operator advisory or notice.
type AdvisoryRow struct {
	TS           time.Time
	AdvisoryType string
	Title        string
	Message      string
	Severity     string
}

// Result is everything one normalization pass produced. Exactly one family
// slice is populated per source; Warnings counts rows skipped for unparseable
// timestamps.
type Result struct {
	RTLBMP         []LBMPRow
	DALBMP         []LBMPRow
	TWLBMP         []LBMPRow
	Loads          []LoadRow
	LoadForecasts  []LoadForecastRow
	InterfaceFlows []InterfaceFlowRow
	Ancillary      []AncillaryRow
	Constraints    []ConstraintRow
	ExternalPrices []ExternalRTOPriceRow
	ATCTTC         []ATCTTCRow
	Outages        []OutageRow
	Weather        []WeatherRow
	FuelMix        []FuelMixRow
	Advisories     []AdvisoryRow

	Warnings int
}

// RowCount is the number of well-formed records across all families.
func (r *Result) RowCount() int {
	return len(r.RTLBMP) + len(r.DALBMP) + len(r.TWLBMP) + len(r.Loads) +
		len(r.LoadForecasts) + len(r.InterfaceFlows) + len(r.Ancillary) +
		len(r.Constraints) + len(r.ExternalPrices) + len(r.ATCTTC) +
		len(r.Outages) + len(r.Weather) + len(r.FuelMix) + len(r.Advisories)
}
