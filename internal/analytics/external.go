package analytics

import (
	"context"
	"math"
	"strings"

	"github.com/gridfeed/gridfeed/internal/store"
)

// Flow directions.
const (
	DirectionImport = "import"
	DirectionExport = "export"
	DirectionZero   = "zero"
)

// externalRegions maps a neighboring-region label to the name fragments that
// tag an interface as belonging to it.
var externalRegions = []struct {
	region    string
	fragments []string
}{
	{"PJM", []string{"PJM", "PJ -"}},
	{"ISO-NE", []string{"NPX", "NE -"}},
	{"IESO", []string{"IESO", "OH -"}},
	{"HQ", []string{"HQ"}},
}

// ExternalInterfacePoint is one external tie's most recent observation.
type ExternalInterfacePoint struct {
	Region             string      `json:"region"`
	InterfaceName      string      `json:"interface_name"`
	Timestamp          store.Stamp `json:"timestamp"`
	FlowMW             *float64    `json:"flow_mw"`
	Direction          string      `json:"direction"`
	LimitMW            *float64    `json:"limit_mw"`
	UtilizationPercent *float64    `json:"utilization_percent"`
}

// ExternalInterfaces returns the latest observation for every interface tied
// to a neighboring region, tagged with flow direction and limit utilization.
// Interfaces matching no region are excluded.
func (e *Engine) ExternalInterfaces(ctx context.Context) ([]ExternalInterfacePoint, error) {
	latest, err := e.store.LatestInterfaceFlows(ctx)
	if err != nil {
		return nil, err
	}

	points := []ExternalInterfacePoint{}
	for _, region := range externalRegions {
		for _, flow := range latest {
			if !matchesRegion(flow.InterfaceName, region.fragments) {
				continue
			}
			points = append(points, classify(region.region, flow))
		}
	}
	return points, nil
}

func matchesRegion(name string, fragments []string) bool {
	upper := strings.ToUpper(name)
	for _, frag := range fragments {
		if strings.Contains(upper, frag) {
			return true
		}
	}
	return false
}

// classify derives direction and utilization from the signed flow. Positive
// flow is an import against the positive limit; negative is an export against
// the negative limit.
func classify(region string, flow store.InterfaceFlowPoint) ExternalInterfacePoint {
	p := ExternalInterfacePoint{
		Region:        region,
		InterfaceName: flow.InterfaceName,
		Timestamp:     flow.Timestamp,
		FlowMW:        flow.FlowMW,
		Direction:     DirectionZero,
	}
	if flow.FlowMW == nil {
		return p
	}

	var limit *float64
	switch {
	case *flow.FlowMW > 0:
		p.Direction = DirectionImport
		limit = flow.PosLimitMW
	case *flow.FlowMW < 0:
		p.Direction = DirectionExport
		limit = flow.NegLimitMW
	default:
		return p
	}

	p.LimitMW = limit
	if limit != nil && *limit != 0 {
		util := 100 * math.Abs(*flow.FlowMW) / math.Abs(*limit)
		p.UtilizationPercent = &util
	}
	return p
}
