// Package directions wraps the Google Maps Directions API for the
// directions tool and traffic-aware skills.
package directions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"github.com/jholhewres/aide/pkg/aide/errs"
)

// Query describes one route request. At most one of DepartureTime and
// ArrivalTime may be set; both absent means "now".
type Query struct {
	Origin        string
	Destination   string
	DepartureTime *time.Time
	ArrivalTime   *time.Time
}

// Route is the summarized best route.
type Route struct {
	Summary           string
	Distance          string
	Duration          time.Duration
	DurationInTraffic time.Duration // zero when the API omitted it
	StartAddress      string
	EndAddress        string
}

// BestDuration returns the traffic-aware duration when present, the
// nominal duration otherwise.
func (r *Route) BestDuration() time.Duration {
	if r.DurationInTraffic > 0 {
		return r.DurationInTraffic
	}
	return r.Duration
}

// Client queries the directions API.
type Client struct {
	maps   *maps.Client
	logger *slog.Logger
}

// New creates a directions client. An empty API key returns a disabled
// client whose Route always fails.
func New(apiKey string, logger *slog.Logger) (*Client, error) {
	c := &Client{logger: logger.With("component", "directions")}
	if apiKey == "" {
		return c, nil
	}
	mc, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating maps client: %w", err)
	}
	c.maps = mc
	return c, nil
}

// Enabled reports whether an API key was configured.
func (c *Client) Enabled() bool {
	return c.maps != nil
}

// Route returns the first driving route for the query.
func (c *Client) Route(ctx context.Context, q Query) (*Route, error) {
	if c.maps == nil {
		return nil, errs.Validation("directions are not configured (set maps_api_key)")
	}
	if q.DepartureTime != nil && q.ArrivalTime != nil {
		return nil, errs.Validation("at most one of departure_time and arrival_time may be set")
	}

	req := &maps.DirectionsRequest{
		Origin:      q.Origin,
		Destination: q.Destination,
		Mode:        maps.TravelModeDriving,
	}
	switch {
	case q.ArrivalTime != nil:
		req.ArrivalTime = strconv.FormatInt(q.ArrivalTime.Unix(), 10)
	case q.DepartureTime != nil:
		req.DepartureTime = strconv.FormatInt(q.DepartureTime.Unix(), 10)
		req.TrafficModel = maps.TrafficModelBestGuess
	default:
		req.DepartureTime = "now"
		req.TrafficModel = maps.TrafficModelBestGuess
	}

	start := time.Now()
	routes, _, err := c.maps.Directions(ctx, req)
	if err != nil {
		return nil, errs.Upstream("directions API request failed", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, errs.Upstream("directions API returned no route", nil)
	}

	route := routes[0]
	leg := route.Legs[0]
	out := &Route{
		Summary:           route.Summary,
		Distance:          leg.Distance.HumanReadable,
		Duration:          leg.Duration,
		DurationInTraffic: leg.DurationInTraffic,
		StartAddress:      leg.StartAddress,
		EndAddress:        leg.EndAddress,
	}

	c.logger.Debug("directions query done",
		"origin", q.Origin,
		"destination", q.Destination,
		"duration_ms", time.Since(start).Milliseconds(),
		"route_duration", out.Duration.String(),
		"in_traffic", out.DurationInTraffic.String(),
	)
	return out, nil
}
