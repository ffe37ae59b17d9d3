package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerationTextfile(t *testing.T) {
	g := NewGeneration()
	g.ObserveStep(3*time.Millisecond, 0.25)
	g.ObserveStep(5*time.Millisecond, 0.75)
	g.ObserveRun("terminated", 2)

	path := filepath.Join(t.TempDir(), "melnet.prom")
	if err := g.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}

	body := string(raw)
	for _, want := range []string{
		"melnet_sample_steps_total 2",
		`melnet_generations_total{reason="terminated"} 1`,
		"melnet_termination_last 0.75",
		"melnet_generated_frames 2",
		"melnet_sample_step_duration_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestNilGenerationIsNoop(t *testing.T) {
	var g *Generation

	g.ObserveStep(time.Second, 1)
	g.ObserveRun("max_steps", 1)

	path := filepath.Join(t.TempDir(), "x.prom")
	if err := g.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile on nil: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("nil Generation wrote a textfile: %v", err)
	}
}
