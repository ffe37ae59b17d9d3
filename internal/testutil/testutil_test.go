package testutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/testutil"
)

func TestRequireCheckpoint_SkipsWhenUnset(t *testing.T) {
	t.Setenv(testutil.CheckpointEnv, "")

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}

	if got := testutil.RequireCheckpoint(fakeT); got != "" || !skipped {
		t.Errorf("RequireCheckpoint = %q, skipped = %v; want skip", got, skipped)
	}
}

func TestRequireCheckpoint_SkipsWhenMissing(t *testing.T) {
	t.Setenv(testutil.CheckpointEnv, filepath.Join(t.TempDir(), "missing.safetensors"))

	skipped := false
	fakeT := &skipTracker{TB: t, onSkip: func() { skipped = true }}
	testutil.RequireCheckpoint(fakeT)

	if !skipped {
		t.Error("expected RequireCheckpoint to skip when the file is absent")
	}
}

func TestWriteTinyCheckpoint(t *testing.T) {
	path := testutil.WriteTinyCheckpoint(t, 1)

	t.Setenv(testutil.CheckpointEnv, path)

	if got := testutil.RequireCheckpoint(t); got != path {
		t.Fatalf("RequireCheckpoint = %q; want %q", got, path)
	}

	hp, err := melnet.LoadHParams(melnet.HParamsPath(path))
	if err != nil {
		t.Fatalf("LoadHParams: %v", err)
	}

	if hp != testutil.TinyHParams() {
		t.Fatalf("hparams = %+v; want %+v", hp, testutil.TinyHParams())
	}

	if _, err := melnet.LoadCheckpoint(path, hp); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
}

// skipTracker is a minimal testing.TB implementation that intercepts Skip calls.
type skipTracker struct {
	testing.TB
	onSkip func()
}

func (s *skipTracker) Helper() {}

func (s *skipTracker) Skipf(_ string, _ ...any) {
	s.onSkip()
	// Do NOT call s.TB.Skip, that would actually skip the outer test.
}
