package bench_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/example/go-melnet-tts/internal/bench"
)

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		300 * time.Millisecond,
		200 * time.Millisecond,
	}

	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("Min = %v, want 100ms", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("Max = %v, want 300ms", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("Mean = %v, want 200ms", s.Mean)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("ComputeStats(nil) = %+v", s)
	}
}

func TestPerFrame(t *testing.T) {
	r := bench.RunResult{Duration: 120 * time.Millisecond, Frames: 4}
	if got := r.PerFrame(); got != 30*time.Millisecond {
		t.Errorf("PerFrame = %v, want 30ms", got)
	}

	if got := (bench.RunResult{Duration: time.Second}).PerFrame(); got != 0 {
		t.Errorf("PerFrame with no frames = %v, want 0", got)
	}
}

func TestMeanPerFrame_SkipsColdRun(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: time.Second, Frames: 1},
		{Index: 1, Duration: 20 * time.Millisecond, Frames: 2},
		{Index: 2, Duration: 40 * time.Millisecond, Frames: 2},
	}

	if got := bench.MeanPerFrame(runs); got != 15*time.Millisecond {
		t.Errorf("MeanPerFrame = %v, want 15ms", got)
	}

	if got := bench.MeanPerFrame(runs[:1]); got != time.Second {
		t.Errorf("MeanPerFrame(cold only) = %v, want 1s", got)
	}
}

func TestFrameThreshold(t *testing.T) {
	tests := []struct {
		name      string
		perFrame  time.Duration
		threshold time.Duration
		wantErr   bool
	}{
		{"exceeds", 20 * time.Millisecond, 10 * time.Millisecond, true},
		{"below", 5 * time.Millisecond, 10 * time.Millisecond, false},
		{"exact", 10 * time.Millisecond, 10 * time.Millisecond, false},
		{"disabled", time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckFrameThreshold(tt.perFrame, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckFrameThreshold err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 50 * time.Millisecond, Frames: 5},
		{Index: 1, Duration: 40 * time.Millisecond, Frames: 5},
	}

	var buf bytes.Buffer
	bench.FormatTable(runs, bench.ComputeStats([]time.Duration{50 * time.Millisecond, 40 * time.Millisecond}), &buf)

	out := buf.String()
	for _, want := range []string{"Run", "Cold", "Frames", "MS/frame", "yes", "(mean)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 10 * time.Millisecond, Frames: 2},
	}

	var buf bytes.Buffer
	if err := bench.FormatJSON(runs, bench.ComputeStats([]time.Duration{10 * time.Millisecond}), &buf); err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}

	var got struct {
		Runs []struct {
			Frames     int     `json:"frames"`
			PerFrameMS float64 `json:"per_frame_ms"`
		} `json:"runs"`
		Stats struct {
			MeanMS float64 `json:"mean_ms"`
		} `json:"stats"`
	}

	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}

	if len(got.Runs) != 1 || got.Runs[0].Frames != 2 || got.Runs[0].PerFrameMS != 5 {
		t.Errorf("runs = %+v", got.Runs)
	}

	if got.Stats.MeanMS != 10 {
		t.Errorf("mean_ms = %v, want 10", got.Stats.MeanMS)
	}
}
