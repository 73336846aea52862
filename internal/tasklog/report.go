package tasklog

import (
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// Expected is the configured timing of a task.
type Expected struct {
	Task   TaskID
	Period time.Duration
	Budget time.Duration
}

// Conformance is the comparison of one task's measured timing with its
// configured timing.
type Conformance struct {
	Expected
	Measured Record
	OK       bool
}

// Within reports whether got is within tolerance of want.
func Within(got, want, tolerance time.Duration) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// Check compares records against expectations. Tasks that never ran twice
// fail, since no period has been measured for them.
func Check(records []Record, expected []Expected, tolerance time.Duration) []Conformance {
	out := make([]Conformance, 0, len(expected))
	for _, e := range expected {
		c := Conformance{Expected: e}
		if e.Task.Valid() && int(e.Task) < len(records) {
			c.Measured = records[e.Task]
			c.OK = c.Measured.Count >= 2 &&
				Within(c.Measured.Period, e.Period, tolerance) &&
				Within(c.Measured.Execution, e.Budget, tolerance)
		}
		out = append(out, c)
	}
	return out
}

// WriteReport renders a conformance table to w.
func WriteReport(w io.Writer, results []Conformance) error {
	table := tablewriter.NewWriter(w)
	table.Header("Task", "Runs", "Period", "Expected", "Execution", "Budget", "Result")

	for _, r := range results {
		result := passColor.Sprint("PASS")
		if !r.OK {
			result = failColor.Sprint("FAIL")
		}
		if err := table.Append(
			r.Task.String(),
			r.Measured.Count,
			formatDuration(r.Measured.Period),
			formatDuration(r.Period),
			formatDuration(r.Measured.Execution),
			formatDuration(r.Budget),
			result,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatDuration(d time.Duration) string {
	return d.Round(10 * time.Microsecond).String()
}
