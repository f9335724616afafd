package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gridfeed/gridfeed/internal/store"
)

// Signal severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Signal rule thresholds.
const (
	spreadWarn   = 15.0
	spreadCrit   = 25.0
	forecastWarn = 5.0
	forecastCrit = 10.0
	reserveWarn  = 10.0
	reserveCrit  = 5.0
)

// Signal is one triggered trading rule. Signals are computed on request and
// never persisted.
type Signal struct {
	Rule      string      `json:"rule"`
	Severity  string      `json:"severity"`
	Timestamp store.Stamp `json:"timestamp"`
	ZoneName  string      `json:"zone_name,omitempty"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Message   string      `json:"message"`
}

// TradingSignals evaluates the three alerting rules against the trailing
// window: RT/DA spread magnitude, load forecast error and low reserve margin.
func (e *Engine) TradingSignals(ctx context.Context, windowHours int) ([]Signal, error) {
	if windowHours < 1 {
		windowHours = 24
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(windowHours) * time.Hour)
	f := store.Filter{Start: &start, End: &end}

	signals := []Signal{}

	spreads, err := e.RTDASpreads(ctx, f, nil)
	if err != nil {
		return nil, err
	}
	// Most recent spread per zone is what a desk acts on.
	latest := make(map[string]SpreadPoint)
	for _, sp := range spreads {
		latest[sp.ZoneName] = sp
	}
	for _, sp := range latest {
		mag := math.Abs(sp.Spread)
		if mag < spreadWarn {
			continue
		}
		sev, threshold := SeverityWarning, spreadWarn
		if mag >= spreadCrit {
			sev, threshold = SeverityCritical, spreadCrit
		}
		signals = append(signals, Signal{
			Rule:      "rt_da_spread",
			Severity:  sev,
			Timestamp: sp.Timestamp,
			ZoneName:  sp.ZoneName,
			Value:     sp.Spread,
			Threshold: threshold,
			Message:   fmt.Sprintf("%s RT/DA spread %.2f $/MWh", sp.ZoneName, sp.Spread),
		})
	}

	errors, err := e.LoadForecastErrors(ctx, f, nil)
	if err != nil {
		return nil, err
	}
	if len(errors) > 0 {
		last := errors[len(errors)-1]
		if last.ErrorPercent != nil {
			mag := math.Abs(*last.ErrorPercent)
			if mag >= forecastWarn {
				sev, threshold := SeverityWarning, forecastWarn
				if mag >= forecastCrit {
					sev, threshold = SeverityCritical, forecastCrit
				}
				signals = append(signals, Signal{
					Rule:      "load_forecast_error",
					Severity:  sev,
					Timestamp: last.Hour,
					Value:     *last.ErrorPercent,
					Threshold: threshold,
					Message:   fmt.Sprintf("load forecast off by %.1f%%", *last.ErrorPercent),
				})
			}
		}
	}

	margins, err := e.ReserveMargins(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(margins) > 0 {
		last := margins[len(margins)-1]
		if last.MarginPercent != nil && *last.MarginPercent < reserveWarn {
			sev, threshold := SeverityWarning, reserveWarn
			if *last.MarginPercent < reserveCrit {
				sev, threshold = SeverityCritical, reserveCrit
			}
			signals = append(signals, Signal{
				Rule:      "low_reserve_margin",
				Severity:  sev,
				Timestamp: last.Timestamp,
				Value:     *last.MarginPercent,
				Threshold: threshold,
				Message:   fmt.Sprintf("reserve margin down to %.1f%%", *last.MarginPercent),
			})
		}
	}

	return signals, nil
}
