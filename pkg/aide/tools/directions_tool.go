package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/aide/pkg/aide/directions"
)

// directionsTimeout bounds one directions lookup.
const directionsTimeout = 10 * time.Second

// DirectionsClient is the directions surface the tool needs.
type DirectionsClient interface {
	Route(ctx context.Context, q directions.Query) (*directions.Route, error)
}

// DirectionsTool answers routing questions.
type DirectionsTool struct {
	client DirectionsClient
}

// NewDirectionsTool creates the directions tool.
func NewDirectionsTool(client DirectionsClient) *DirectionsTool {
	return &DirectionsTool{client: client}
}

func (t *DirectionsTool) Name() string { return "directions" }

func (t *DirectionsTool) Description() string {
	return "Get driving directions between two places, with live traffic. Pass arrival_time to learn when to leave, or departure_time to plan ahead; omit both for right now."
}

func (t *DirectionsTool) Parameters() json.RawMessage {
	return schema(`{
		"type": "object",
		"properties": {
			"origin": {"type": "string", "description": "Start address or place"},
			"destination": {"type": "string", "description": "Destination address or place"},
			"departure_time": {"type": "string", "description": "ISO-8601 departure instant"},
			"arrival_time": {"type": "string", "description": "ISO-8601 desired arrival instant"}
		},
		"required": ["origin", "destination"]
	}`)
}

func (t *DirectionsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		DepartureTime string `json:"departure_time"`
		ArrivalTime   string `json:"arrival_time"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("parsing arguments: %w", err)
	}
	if in.Origin == "" || in.Destination == "" {
		return "", fmt.Errorf("origin and destination are required")
	}
	if in.DepartureTime != "" && in.ArrivalTime != "" {
		return "", fmt.Errorf("pass departure_time or arrival_time, not both")
	}

	q := directions.Query{Origin: in.Origin, Destination: in.Destination}
	if in.DepartureTime != "" {
		at, err := time.Parse(time.RFC3339, in.DepartureTime)
		if err != nil {
			return "", fmt.Errorf("departure_time must be ISO-8601: %w", err)
		}
		q.DepartureTime = &at
	}
	if in.ArrivalTime != "" {
		at, err := time.Parse(time.RFC3339, in.ArrivalTime)
		if err != nil {
			return "", fmt.Errorf("arrival_time must be ISO-8601: %w", err)
		}
		q.ArrivalTime = &at
	}

	ctx, cancel := context.WithTimeout(ctx, directionsTimeout)
	defer cancel()

	route, err := t.client.Route(ctx, q)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Route from %s to %s", route.StartAddress, route.EndAddress)
	if route.Summary != "" {
		fmt.Fprintf(&b, " via %s", route.Summary)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Distance: %s\n", route.Distance)
	fmt.Fprintf(&b, "Travel time: %s", route.BestDuration().Round(time.Minute))
	if route.DurationInTraffic > 0 {
		b.WriteString(" (with current traffic)")
	}
	b.WriteString("\n")
	if q.ArrivalTime != nil {
		leaveBy := q.ArrivalTime.Add(-route.BestDuration())
		fmt.Fprintf(&b, "Leave by %s to arrive at %s.\n",
			leaveBy.Format("15:04"), q.ArrivalTime.Format("15:04"))
	}
	return b.String(), nil
}
