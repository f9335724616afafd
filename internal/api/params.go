package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gridfeed/gridfeed/internal/store"
)

// ValidationError maps a bad query parameter to an HTTP status: 400 for a
// malformed value, 422 for a well-formed value outside its allowed range.
type ValidationError struct {
	Param  string
	Reason string
	Status int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %s: %s", e.Param, e.Reason)
}

func malformed(param, reason string) *ValidationError {
	return &ValidationError{Param: param, Reason: reason, Status: http.StatusBadRequest}
}

func outOfRange(param, reason string) *ValidationError {
	return &ValidationError{Param: param, Reason: reason, Status: http.StatusUnprocessableEntity}
}

const (
	maxLimit       = 10000
	maxWindowHours = 168
)

// dateLayouts accepted by start_date / end_date, date-only first.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseDate(param, value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, malformed(param, fmt.Sprintf("unparseable date %q", value))
}

// filterFromQuery builds the shared store filter from the recognized
// parameters. Unrecognized parameters are ignored.
func filterFromQuery(q url.Values, defaultLimit int) (store.Filter, error) {
	f := store.Filter{Limit: defaultLimit}

	if v := q.Get("start_date"); v != "" {
		t, err := parseDate("start_date", v)
		if err != nil {
			return f, err
		}
		f.Start = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseDate("end_date", v)
		if err != nil {
			return f, err
		}
		// A bare date means the whole day, inclusive.
		if len(v) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Second)
		}
		f.End = &t
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return f, outOfRange("end_date", "before start_date")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, malformed("limit", "not an integer")
		}
		if n < 1 || n > maxLimit {
			return f, outOfRange("limit", fmt.Sprintf("must be 1..%d", maxLimit))
		}
		f.Limit = n
	}

	if v := q.Get("zones"); v != "" {
		for _, z := range strings.Split(v, ",") {
			if z = strings.ToUpper(strings.TrimSpace(z)); z != "" {
				f.Zones = append(f.Zones, z)
			}
		}
	}

	if v := q.Get("include_all_zones"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			return f, malformed("include_all_zones", "not a boolean")
		}
		if all {
			f.Zones = nil
		}
	}

	if v := q.Get("market_type"); v != "" {
		if v != "realtime" && v != "dayahead" {
			return f, outOfRange("market_type", "must be realtime or dayahead")
		}
		f.Market = v
	}

	f.RTO = q.Get("rto_name")
	f.Interface = q.Get("interface_name")
	f.OutageType = strings.ToUpper(q.Get("outage_type"))
	f.FuelType = strings.ToUpper(q.Get("fuel_type"))
	f.ServiceType = q.Get("service_type")

	return f, nil
}

func windowHoursFromQuery(q url.Values, fallback int) (int, error) {
	v := q.Get("window_hours")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, malformed("window_hours", "not an integer")
	}
	if n < 1 || n > maxWindowHours {
		return 0, outOfRange("window_hours", fmt.Sprintf("must be 1..%d", maxWindowHours))
	}
	return n, nil
}

func floatFromQuery(q url.Values, param string) (*float64, error) {
	v := q.Get(param)
	if v == "" {
		return nil, nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, malformed(param, "not a number")
	}
	return &x, nil
}
