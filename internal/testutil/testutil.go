// Package testutil provides shared fixtures and skip helpers for tests that
// need a model checkpoint.
//
// Typical usage:
//
//	func TestTrainedAlignment(t *testing.T) {
//	    ckpt := testutil.RequireCheckpoint(t)
//	    ...
//	}
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/safetensors"
	"github.com/example/go-melnet-tts/internal/text"
)

// CheckpointEnv names the environment variable pointing at a trained
// checkpoint for integration tests.
const CheckpointEnv = "MELNET_TEST_CHECKPOINT"

// RequireCheckpoint returns the checkpoint named by MELNET_TEST_CHECKPOINT and
// skips the test when it, or its hparams.yaml sidecar, is missing.
func RequireCheckpoint(tb testing.TB) string {
	tb.Helper()

	path := os.Getenv(CheckpointEnv)
	if path == "" {
		tb.Skipf("no trained checkpoint configured; set %s to run", CheckpointEnv)
		return ""
	}

	if _, err := os.Stat(path); err != nil {
		tb.Skipf("checkpoint not available at %s=%q: %v", CheckpointEnv, path, err)
		return ""
	}

	if _, err := os.Stat(melnet.HParamsPath(path)); err != nil {
		tb.Skipf("hparams sidecar missing for %q: %v", path, err)
		return ""
	}

	return path
}

// TinyHParams is a model small enough for fast end-to-end tests.
func TinyHParams() melnet.HParams {
	return melnet.HParams{
		Hidden:       4,
		GMM:          2,
		AttentionGMM: 2,
		Layers:       2,
		NMels:        3,
		NSymbols:     text.NumSymbols(),
	}
}

// WriteTinyCheckpoint writes a randomly initialised TinyHParams checkpoint
// and its hparams sidecar into a temp dir and returns the checkpoint path.
func WriteTinyCheckpoint(tb testing.TB, seed int64) string {
	tb.Helper()

	hp := TinyHParams()

	_, vars, err := melnet.New(hp, seed)
	if err != nil {
		tb.Fatalf("init model: %v", err)
	}

	path := filepath.Join(tb.TempDir(), "melnet.safetensors")
	if err := melnet.SaveCheckpoint(path, vars, hp, safetensors.DTypeF32); err != nil {
		tb.Fatalf("save checkpoint: %v", err)
	}

	if err := hp.Save(melnet.HParamsPath(path)); err != nil {
		tb.Fatalf("save hparams: %v", err)
	}

	return path
}
