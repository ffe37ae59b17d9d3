// Package bench provides timing primitives for the melnet bench command.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// RunResult holds the timing of a single generation run.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run
	Duration time.Duration
	Frames   int
}

// PerFrame is the wall time spent per generated frame, or zero when no frame
// was produced.
func (r RunResult) PerFrame() time.Duration {
	if r.Frames <= 0 {
		return 0
	}

	return r.Duration / time.Duration(r.Frames)
}

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}

	mn, mx := durations[0], durations[0]

	var sum time.Duration
	for _, d := range durations {
		mn = min(mn, d)
		mx = max(mx, d)
		sum += d
	}

	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// MeanPerFrame averages PerFrame over the warm runs, falling back to all
// runs when only the cold run exists.
func MeanPerFrame(runs []RunResult) time.Duration {
	var (
		sum time.Duration
		n   int
	)

	for _, r := range runs {
		if r.Cold && len(runs) > 1 {
			continue
		}

		sum += r.PerFrame()
		n++
	}

	if n == 0 {
		return 0
	}

	return sum / time.Duration(n)
}

// CheckFrameThreshold returns an error if perFrame exceeds threshold.
// A threshold of 0 disables the gate.
func CheckFrameThreshold(perFrame, threshold time.Duration) error {
	if threshold <= 0 {
		return nil
	}

	if perFrame > threshold {
		return fmt.Errorf("mean time per frame %s exceeds threshold %s", perFrame, threshold)
	}

	return nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %8s  %12s\n", "Run", "Cold", "MS", "Frames", "MS/frame")
	fmt.Fprintln(sb, strings.Repeat("-", 48))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}

		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %8d  %12.3f\n",
			r.Index+1, cold, ms(r.Duration), r.Frames, ms(r.PerFrame()))
	}

	fmt.Fprintln(sb, strings.Repeat("-", 48))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", ms(stats.Min))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean)\n", "", "", ms(stats.Mean))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", ms(stats.Max))

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	Frames     int     `json:"frames"`
	PerFrameMS float64 `json:"per_frame_ms"`
}

type jsonStats struct {
	MinMS      float64 `json:"min_ms"`
	MeanMS     float64 `json:"mean_ms"`
	MaxMS      float64 `json:"max_ms"`
	PerFrameMS float64 `json:"per_frame_ms"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:      ms(stats.Min),
			MeanMS:     ms(stats.Mean),
			MaxMS:      ms(stats.Max),
			PerFrameMS: ms(MeanPerFrame(runs)),
		},
	}

	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Duration),
			Frames:     r.Frames,
			PerFrameMS: ms(r.PerFrame()),
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(jr)
}
