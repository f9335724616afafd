package store

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// Stamp is a naive operator-local wall-clock instant. It marshals without a
// zone suffix and scans from the text and native forms both drivers produce.
type Stamp time.Time

const stampLayout = "2006-01-02T15:04:05"

// Time returns the underlying time value.
func (s Stamp) Time() time.Time { return time.Time(s) }

func (s Stamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(s).Format(stampLayout) + `"`), nil
}

func (s *Stamp) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid timestamp %q", string(b))
	}
	t, err := time.Parse(stampLayout, string(b[1:len(b)-1]))
	if err != nil {
		return err
	}
	*s = Stamp(t)
	return nil
}

func (s Stamp) Value() (driver.Value, error) {
	return time.Time(s), nil
}

func (s *Stamp) Scan(v interface{}) error {
	switch t := v.(type) {
	case time.Time:
		*s = Stamp(t)
		return nil
	case []byte:
		return s.scanString(string(t))
	case string:
		return s.scanString(t)
	case nil:
		*s = Stamp(time.Time{})
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Stamp", v)
	}
}

func (s *Stamp) scanString(v string) error {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			*s = Stamp(t.UTC())
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", v)
}

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Job is one scrape attempt for a (source, date) pair. Immutable once
// finished.
type Job struct {
	ID            int64   `db:"id" json:"id"`
	SourceCode    string  `db:"source_code" json:"source_code"`
	TargetDate    Stamp   `db:"target_date" json:"target_date"`
	StartedAt     Stamp   `db:"started_at" json:"started_at"`
	FinishedAt    *Stamp  `db:"finished_at" json:"finished_at,omitempty"`
	Status        string  `db:"status" json:"status"`
	RowsInserted  int     `db:"rows_inserted" json:"rows_inserted"`
	RowsUpdated   int     `db:"rows_updated" json:"rows_updated"`
	ParseWarnings int     `db:"parse_warnings" json:"parse_warnings"`
	ErrorText     *string `db:"error_text" json:"error_text,omitempty"`
	URLUsed       *string `db:"url_used" json:"url_used,omitempty"`
}

// SourceRecord mirrors a registry source for the persisted catalog.
type SourceRecord struct {
	Code           string `db:"code" json:"code"`
	Name           string `db:"name" json:"name"`
	Category       string `db:"category" json:"category"`
	Cadence        string `db:"cadence" json:"cadence"`
	DirectURL      string `db:"direct_url" json:"direct_url,omitempty"`
	ArchiveURL     string `db:"archive_url" json:"archive_url,omitempty"`
	SnapshotURL    string `db:"snapshot_url" json:"snapshot_url,omitempty"`
	TransformerTag string `db:"transformer_tag" json:"transformer_tag"`
}

// Read-side rows. Zone and interface surrogate keys are resolved back to
// names so the API never leaks ids.

type LBMPPoint struct {
	Timestamp Stamp    `db:"ts" json:"timestamp"`
	ZoneName  string   `db:"zone_name" json:"zone_name"`
	LBMP      *float64 `db:"lbmp" json:"lbmp"`
	MCL       *float64 `db:"mcl" json:"marginal_cost_losses"`
	MCC       *float64 `db:"mcc" json:"marginal_cost_congestion"`
}

type LoadPoint struct {
	Timestamp Stamp    `db:"ts" json:"timestamp"`
	ZoneName  string   `db:"zone_name" json:"zone_name"`
	LoadMW    *float64 `db:"load_mw" json:"load_mw"`
}

type LoadForecastPoint struct {
	Timestamp  Stamp    `db:"ts" json:"timestamp"`
	ZoneName   string   `db:"zone_name" json:"zone_name"`
	ForecastMW *float64 `db:"forecast_mw" json:"forecast_mw"`
}

type InterfaceFlowPoint struct {
	Timestamp     Stamp    `db:"ts" json:"timestamp"`
	InterfaceName string   `db:"interface_name" json:"interface_name"`
	FlowMW        *float64 `db:"flow_mw" json:"flow_mw"`
	PosLimitMW    *float64 `db:"pos_limit_mw" json:"positive_limit_mw"`
	NegLimitMW    *float64 `db:"neg_limit_mw" json:"negative_limit_mw"`
}

type AncillaryPoint struct {
	Timestamp   Stamp    `db:"ts" json:"timestamp"`
	ZoneName    string   `db:"zone_name" json:"zone_name"`
	Market      string   `db:"market" json:"market"`
	ServiceType string   `db:"service_type" json:"service_type"`
	Price       *float64 `db:"price" json:"price"`
}

type ConstraintPoint struct {
	Timestamp      Stamp    `db:"ts" json:"timestamp"`
	Market         string   `db:"market" json:"market"`
	ConstraintName string   `db:"constraint_name" json:"constraint_name"`
	ShadowPrice    *float64 `db:"shadow_price" json:"shadow_price"`
	Binding        bool     `db:"binding" json:"binding"`
	LimitMW        *float64 `db:"limit_mw" json:"limit_mw"`
	FlowMW         *float64 `db:"flow_mw" json:"flow_mw"`
}

type ExternalRTOPricePoint struct {
	Timestamp Stamp    `db:"ts" json:"timestamp"`
	RTO       string   `db:"rto" json:"rto_name"`
	RTCPrice  *float64 `db:"rtc_price" json:"rtc_price"`
	CTSPrice  *float64 `db:"cts_price" json:"cts_price"`
	PriceDiff *float64 `db:"price_diff" json:"price_diff"`
}

type ATCTTCPoint struct {
	Timestamp     Stamp    `db:"ts" json:"timestamp"`
	InterfaceName string   `db:"interface_name" json:"interface_name"`
	ForecastType  string   `db:"forecast_type" json:"forecast_type"`
	ATCMW         *float64 `db:"atc_mw" json:"atc_mw"`
	TTCMW         *float64 `db:"ttc_mw" json:"ttc_mw"`
	TRMMW         *float64 `db:"trm_mw" json:"trm_mw"`
	Direction     string   `db:"direction" json:"direction"`
}

type OutagePoint struct {
	Timestamp    Stamp    `db:"ts" json:"timestamp"`
	OutageType   string   `db:"outage_type" json:"outage_type"`
	Market       string   `db:"market" json:"market"`
	ResourceName string   `db:"resource_name" json:"resource_name"`
	ResourceType string   `db:"resource_type" json:"resource_type"`
	MWCapacity   *float64 `db:"mw_capacity" json:"mw_capacity"`
	MWOutage     *float64 `db:"mw_outage" json:"mw_outage"`
	Start        *Stamp   `db:"start_t" json:"start,omitempty"`
	End          *Stamp   `db:"end_t" json:"end,omitempty"`
	Status       string   `db:"status" json:"status"`
}

type WeatherPoint struct {
	Timestamp  Stamp    `db:"ts" json:"timestamp"`
	ForecastTS Stamp    `db:"forecast_ts" json:"forecast_timestamp"`
	Location   string   `db:"location" json:"location"`
	TempF      *float64 `db:"temp_f" json:"temp_f"`
	Humidity   *float64 `db:"humidity" json:"humidity"`
	WindMPH    *float64 `db:"wind_mph" json:"wind_mph"`
	WindDir    string   `db:"wind_dir" json:"wind_direction"`
	CloudPct   *float64 `db:"cloud_pct" json:"cloud_cover_pct"`
}

type FuelMixPoint struct {
	Timestamp    Stamp    `db:"ts" json:"timestamp"`
	FuelType     string   `db:"fuel_type" json:"fuel_type"`
	GenerationMW *float64 `db:"generation_mw" json:"generation_mw"`
	Pct          *float64 `db:"pct" json:"pct"`
}

type AdvisoryPoint struct {
	Timestamp    Stamp  `db:"ts" json:"timestamp"`
	AdvisoryType string `db:"advisory_type" json:"advisory_type"`
	Title        string `db:"title" json:"title"`
	Message      string `db:"message" json:"message"`
	Severity     string `db:"severity" json:"severity"`
}
