package melnet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/go-melnet-tts/internal/safetensors"
	"github.com/example/go-melnet-tts/internal/text"
)

func TestDefaultHParams(t *testing.T) {
	hp := DefaultHParams()
	require.NoError(t, hp.Validate())
	require.Equal(t, text.NumSymbols(), hp.NSymbols)
	require.Equal(t, 2, hp.AttentionLayer())
}

func TestHParamsValidate(t *testing.T) {
	hp := DefaultHParams()
	hp.Hidden = 7
	hp.Layers = 0

	err := hp.Validate()
	require.ErrorContains(t, err, "hidden")
	require.ErrorContains(t, err, "layers")
}

func TestLoadHParamsKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), HParamsFile)
	require.NoError(t, os.WriteFile(path, []byte("hidden: 64\nlayers: 6\n"), 0o644))

	hp, err := LoadHParams(path)
	require.NoError(t, err)

	want := DefaultHParams()
	want.Hidden = 64
	want.Layers = 6
	require.Equal(t, want, hp)

	require.NoError(t, os.WriteFile(path, []byte("hidden: [\n"), 0o644))
	_, err = LoadHParams(path)
	require.ErrorContains(t, err, "parse hparams")
}

func TestHParamsPath(t *testing.T) {
	require.Equal(t, filepath.Join("runs", "a", HParamsFile), HParamsPath(filepath.Join("runs", "a", "model.safetensors")))
}

func TestHParamsMetadata(t *testing.T) {
	hp := smallHParams()

	meta, err := hp.metadata()
	require.NoError(t, err)
	require.Equal(t, "melnet", meta["format"])

	got, err := ParseHParams([]byte(meta["hparams"]))
	require.NoError(t, err)
	require.Equal(t, hp, got)

	bad := hp
	bad.Hidden = 3

	_, err = bad.metadata()
	require.ErrorContains(t, err, "hidden")

	_, vars, err := New(hp, 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err = SaveCheckpoint(path, vars, bad, safetensors.DTypeF32)
	require.ErrorContains(t, err, "save checkpoint")

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "checkpoint written despite invalid hparams")
}
