package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-melnet-tts/internal/melnet"
	"github.com/example/go-melnet-tts/internal/safetensors"
	"github.com/example/go-melnet-tts/internal/testutil"
)

func tinyInitArgs(ckpt string) []string {
	return []string{
		"init",
		"--paths-checkpoint-path", ckpt,
		"--hidden", "4",
		"--layers", "2",
		"--gmm", "2",
		"--attention-gmm", "2",
		"--n-mels", "3",
		"--seed", "3",
		"--dtype", "f16",
		"--log-level", "error",
		"--runtime-workers", "1",
	}
}

func TestInitInspectSampleAlign(t *testing.T) {
	t.Chdir(t.TempDir())

	dir := t.TempDir()
	ckpt := filepath.Join(dir, "melnet.safetensors")

	out, _, err := runCLI(t, "", tinyInitArgs(ckpt)...)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if !strings.Contains(out, "wrote "+ckpt) {
		t.Errorf("init output = %q", out)
	}

	hp, err := melnet.LoadHParams(melnet.HParamsPath(ckpt))
	if err != nil {
		t.Fatalf("hparams sidecar: %v", err)
	}

	if hp != testutil.TinyHParams() {
		t.Errorf("hparams = %+v", hp)
	}

	out, _, err = runCLI(t, "", "inspect", "--paths-checkpoint-path", ckpt)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	for _, want := range []string{"format: melnet", "attention.W_g.bias", "F16", "hidden: 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}

	melPath := filepath.Join(dir, "out.mel.safetensors")
	promPath := filepath.Join(dir, "melnet.prom")

	_, logs, err := runCLI(t, "Hi. Bye.",
		"sample",
		"--paths-checkpoint-path", ckpt,
		"--sample-max-steps", "3",
		"--sample-max-chunk-chars", "3",
		"--metrics-textfile", promPath,
		"--out", melPath,
	)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}

	if !strings.Contains(logs, `"run_id"`) {
		t.Errorf("logs missing run_id:\n%s", logs)
	}

	mel, err := safetensors.LoadMel(melPath)
	if err != nil {
		t.Fatalf("LoadMel: %v", err)
	}

	if got := mel.Shape; len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 6 {
		t.Fatalf("mel shape = %v; want [1 3 6]", got)
	}

	prom, err := os.ReadFile(promPath)
	if err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}

	if !strings.Contains(string(prom), "melnet_sample_steps_total 6") {
		t.Errorf("metrics textfile:\n%s", prom)
	}

	// Without the sidecar the embedded hyperparameters are used.
	if err := os.Remove(melnet.HParamsPath(ckpt)); err != nil {
		t.Fatal(err)
	}

	alignPath := filepath.Join(dir, "align.safetensors")

	out, _, err = runCLI(t, "", "align", "--paths-checkpoint-path", ckpt, "--text", "Hi.", "--mel", melPath, "--out", alignPath)
	if err != nil {
		t.Fatalf("align: %v", err)
	}

	if !strings.Contains(out, "frames: 6  text positions: 4  mixtures: 2") {
		t.Errorf("align output:\n%s", out)
	}

	store, err := safetensors.OpenStore(alignPath, safetensors.StoreOptions{})
	if err != nil {
		t.Fatalf("alignment file: %v", err)
	}
	defer store.Close()

	al, err := store.Tensor("alignment")
	if err != nil {
		t.Fatalf("alignment tensor: %v", err)
	}

	if al.Name != "alignment" || len(al.Shape) != 3 || al.Shape[1] != 6 || al.Shape[2] != 4 {
		t.Errorf("alignment tensor %q shape %v", al.Name, al.Shape)
	}
}

func TestCommandErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	ckpt := testutil.WriteTinyCheckpoint(t, 2)

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"init bad dtype", "", []string{"init", "--out", filepath.Join(t.TempDir(), "x.safetensors"), "--dtype", "f64"}, "unsupported --dtype"},
		{"init odd hidden", "", []string{"init", "--out", filepath.Join(t.TempDir(), "x.safetensors"), "--hidden", "5"}, "hidden"},
		{"sample no text", "", []string{"sample", "--paths-checkpoint-path", ckpt}, "--text"},
		{"sample unknown symbol", "", []string{"sample", "--paths-checkpoint-path", ckpt, "--text", "x=1"}, "unknown symbol"},
		{"align needs mel", "", []string{"align", "--paths-checkpoint-path", ckpt, "--text", "a"}, "--mel"},
		{"missing checkpoint", "", []string{"sample", "--paths-checkpoint-path", filepath.Join(t.TempDir(), "none.safetensors"), "--text", "a"}, "none.safetensors"},
		{"bad config", "", []string{"symbols", "--runtime-workers", "0"}, "runtime.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, tt.stdin, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v; want containing %q", err, tt.want)
			}
		})
	}
}

func TestBenchJSON(t *testing.T) {
	t.Chdir(t.TempDir())

	ckpt := testutil.WriteTinyCheckpoint(t, 4)

	out, _, err := runCLI(t, "",
		"bench",
		"--paths-checkpoint-path", ckpt,
		"--sample-max-steps", "2",
		"--text", "a",
		"--runs", "2",
		"--format", "json",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	for _, want := range []string{`"runs"`, `"frames": 2`, `"cold": true`, `"per_frame_ms"`} {
		if !strings.Contains(out, want) {
			t.Errorf("bench output missing %q:\n%s", want, out)
		}
	}

	_, _, err = runCLI(t, "", "bench", "--paths-checkpoint-path", ckpt, "--text", "a", "--runs", "0")
	if err == nil || !strings.Contains(err.Error(), "--runs") {
		t.Errorf("runs=0 err = %v", err)
	}
}

func TestDoctor(t *testing.T) {
	t.Chdir(t.TempDir())

	ckpt := testutil.WriteTinyCheckpoint(t, 5)

	out, _, err := runCLI(t, "", "doctor", "--paths-checkpoint-path", ckpt, "--log-level", "error")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	for _, want := range []string{"✓ checkpoint", "✓ hparams", "hidden=4 layers=2", "✓ model", "✓ metrics textfile: skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}

	missing := filepath.Join(t.TempDir(), "none.safetensors")

	out, _, err = runCLI(t, "", "doctor", "--paths-checkpoint-path", missing, "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "3 check(s) failed") {
		t.Fatalf("doctor err = %v\n%s", err, out)
	}

	if !strings.Contains(out, "model: skipped (hparams failed)") {
		t.Errorf("doctor output:\n%s", out)
	}
}
