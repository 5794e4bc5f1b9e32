package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jholhewres/aide/pkg/aide/directions"
)

// DirectionsClient is the directions surface the skill needs.
type DirectionsClient interface {
	Route(ctx context.Context, q directions.Query) (*directions.Route, error)
}

// Notifier delivers the time-to-leave push.
type Notifier interface {
	Send(ctx context.Context, title, body, tag, clickURL string)
}

// departureConfig is the skill's job config.
type departureConfig struct {
	Version             int    `json:"version"`
	Origin              string `json:"origin"`
	Destination         string `json:"destination"`
	ArrivalTime         string `json:"arrivalTime"` // "HH:MM" local
	LeadMinutes         int    `json:"leadMinutes"`
	PollIntervalMinutes int    `json:"pollIntervalMinutes"`
}

// DepartureCheck polls traffic until it is time to leave for an
// appointment, sends one notification, and disables its job.
type DepartureCheck struct {
	directions DirectionsClient
	notifier   Notifier
	now        func() time.Time
}

// NewDepartureCheck creates the skill.
func NewDepartureCheck(dc DirectionsClient, n Notifier) *DepartureCheck {
	return &DepartureCheck{directions: dc, notifier: n, now: time.Now}
}

func (d *DepartureCheck) Name() string { return "departure-check" }

func (d *DepartureCheck) Description() string {
	return "Watches live traffic for a trip and sends a notification when it is time to leave to arrive on schedule. Disables its job after firing."
}

func (d *DepartureCheck) ConfigSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"version": {"type": "integer", "const": 1},
			"origin": {"type": "string", "description": "Trip start address"},
			"destination": {"type": "string", "description": "Trip destination address"},
			"arrivalTime": {"type": "string", "description": "Desired arrival time today, HH:MM (24h, local)"},
			"leadMinutes": {"type": "integer", "description": "Minutes of headroom before the computed leave-by time (default 7)"},
			"pollIntervalMinutes": {"type": "integer", "description": "Minutes between traffic checks (default 5)"}
		},
		"required": ["version", "origin", "destination", "arrivalTime"]
	}`)
}

// Execute runs the poll loop until the notification fires, the arrival
// time has passed, or the scheduler cancels the run.
func (d *DepartureCheck) Execute(ctx context.Context, sc Context) (Result, error) {
	cfg, err := d.parseConfig(sc)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	logger := sc.Logger.With("skill", d.Name(), "job_id", sc.Job.ID)
	lead := time.Duration(cfg.LeadMinutes) * time.Minute
	poll := time.Duration(cfg.PollIntervalMinutes) * time.Minute

	for {
		now := d.now()
		arrival, err := arrivalToday(now, cfg.ArrivalTime)
		if err != nil {
			return Result{Success: false, Message: err.Error()}, nil
		}
		if now.After(arrival) {
			return Result{Success: true, Message: "Past arrival time", DisableJob: true}, nil
		}

		route, err := d.directions.Route(ctx, directions.Query{
			Origin:      cfg.Origin,
			Destination: cfg.Destination,
			ArrivalTime: &arrival,
		})
		if err != nil {
			// Transient traffic-API failures never fail the run.
			logger.Warn("directions query failed, will retry", "error", err)
		} else {
			leaveBy := arrival.Add(-route.BestDuration())
			logger.Debug("traffic check",
				"leave_by", leaveBy.Format("15:04"),
				"travel", route.BestDuration().String(),
			)

			if !leaveBy.After(now.Add(lead)) {
				body := fmt.Sprintf("Leave by %s to reach %s by %s (%s drive).",
					leaveBy.Format("15:04"), cfg.Destination, arrival.Format("15:04"),
					route.BestDuration().Round(time.Minute))
				d.notifier.Send(ctx, "Time to leave", body, "car", "")
				return Result{
					Success:    true,
					Message:    "Notification sent: " + body,
					DisableJob: true,
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return Result{Success: true, Message: "Aborted"}, nil
		case <-time.After(poll):
		}
	}
}

func (d *DepartureCheck) parseConfig(sc Context) (*departureConfig, error) {
	raw, err := json.Marshal(sc.Job.SkillConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid skill config: %v", err)
	}
	var cfg departureConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid skill config: %v", err)
	}
	if cfg.Origin == "" || cfg.Destination == "" || cfg.ArrivalTime == "" {
		return nil, fmt.Errorf("departure-check needs origin, destination and arrivalTime")
	}
	if cfg.LeadMinutes <= 0 {
		cfg.LeadMinutes = 7
	}
	if cfg.PollIntervalMinutes <= 0 {
		cfg.PollIntervalMinutes = 5
	}
	return &cfg, nil
}

// arrivalToday resolves "HH:MM" against today's wall clock.
func arrivalToday(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid arrivalTime %q, want HH:MM", hhmm)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
}
