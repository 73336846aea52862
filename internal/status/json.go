package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Mode          string         `json:"mode"`
	State         string         `json:"state"`
	Bike          BikeJSON       `json:"bike"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Tasks         []TaskJSON     `json:"tasks"`
	Counters      CountersJSON   `json:"counters"`
	Resets        ResetStatsJSON `json:"resets"`
	Config        ConfigJSON     `json:"config"`
}

// BikeJSON holds the displayed values.
type BikeJSON struct {
	Gear         uint8    `json:"gear"`
	SpeedKmh     float64  `json:"speed_kmh"`
	AverageKmh   float64  `json:"average_speed_kmh"`
	DistanceKm   float64  `json:"distance_km"`
	Rotations    uint64   `json:"rotations"`
	TemperatureC *float64 `json:"temperature_c"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// TaskJSON is the JSON representation of a task timing record.
type TaskJSON struct {
	Task             string  `json:"task"`
	PeriodMs         float64 `json:"period_ms"`
	ExecutionMs      float64 `json:"execution_ms"`
	ExpectedPeriodMs float64 `json:"expected_period_ms"`
	BudgetMs         float64 `json:"budget_ms"`
	Count            uint64  `json:"count"`
}

// CountersJSON is the JSON representation of the error counters.
type CountersJSON struct {
	Cycles            uint64 `json:"cycles"`
	Overruns          uint64 `json:"overruns"`
	BudgetOverruns    uint64 `json:"budget_overruns"`
	SkippedReleases   uint64 `json:"skipped_releases"`
	DroppedEvents     uint64 `json:"dropped_events"`
	DroppedSamples    uint64 `json:"dropped_samples"`
	TemperatureErrors uint64 `json:"temperature_errors"`
}

// ResetStatsJSON is the JSON representation of reset response times.
type ResetStatsJSON struct {
	Count  uint64 `json:"count"`
	LastUs int64  `json:"last_us"`
	MaxUs  int64  `json:"max_us"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	MajorCycleMs int64  `json:"major_cycle_ms"`
	MinorFrameMs int64  `json:"minor_frame_ms"`
	TelemetryMs  int64  `json:"telemetry_ms"`
	Broker       string `json:"broker"`
	HTTPAddr     string `json:"http_addr"`
	Hardware     bool   `json:"hardware"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// round2 keeps displayed values to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func buildInner(snap Snapshot) StatusInner {
	state := snap.Runtime.State
	if state == "" {
		state = "idle"
	}

	inner := StatusInner{
		Mode:  snap.Config.Mode,
		State: state,
		Bike: BikeJSON{
			Gear:       snap.Gear,
			SpeedKmh:   round2(snap.Speed),
			AverageKmh: round2(snap.Runtime.AverageSpeed),
			DistanceKm: round2(snap.Distance),
			Rotations:  snap.Runtime.Rotations,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Tasks:         make([]TaskJSON, 0, len(snap.Runtime.Tasks)),
		Counters:      CountersJSON(snap.Runtime.Counters),
		Resets: ResetStatsJSON{
			Count:  snap.Runtime.Resets.Count,
			LastUs: snap.Runtime.Resets.Last.Microseconds(),
			MaxUs:  snap.Runtime.Resets.Max.Microseconds(),
		},
		Config: ConfigJSON{
			MajorCycleMs: snap.Config.MajorCycleMs,
			MinorFrameMs: snap.Config.MinorFrameMs,
			TelemetryMs:  snap.Config.TelemetryMs,
			Broker:       snap.Config.Broker,
			HTTPAddr:     snap.Config.HTTPAddr,
			Hardware:     snap.Config.Hardware,
		},
	}
	if snap.TemperatureValid {
		temp := round2(snap.Temperature)
		inner.Bike.TemperatureC = &temp
	}
	for _, task := range snap.Runtime.Tasks {
		inner.Tasks = append(inner.Tasks, TaskJSON{
			Task:             task.Task,
			PeriodMs:         millis(task.Period),
			ExecutionMs:      millis(task.Execution),
			ExpectedPeriodMs: millis(task.ExpectedPeriod),
			BudgetMs:         millis(task.Budget),
			Count:            task.Count,
		})
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
