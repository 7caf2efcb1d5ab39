package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/encodeous/weft/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeNodeTopology = `parents:
  "0012:4b00:0000:0001": ["0012:4b00:0000:0088"]
  "0012:4b00:0000:0002": ["0012:4b00:0000:0088"]
`

func writeTopology(t *testing.T, body string) string {
	p := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0600))
	return p
}

func TestCompute(t *testing.T) {
	p := writeTopology(t, threeNodeTopology)
	out := bytes.Buffer{}
	err := compute(&out, p, state.DefaultCfg(), true, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "3 nodes, 2 links, tasa, feasible=true, 2 entries")
	assert.Contains(t, s, "| 0002 | 0088 |    4 |    0 |")
	assert.Contains(t, s, "| 0001 | 0088 |    5 |    0 |")
	assert.Contains(t, s, "0012:4b00:0000:0002 [0] 800104004000124b0000000088\n")
	assert.Contains(t, s, "0012:4b00:0000:0088 [0] 8002")
}

func TestComputeFirstFit(t *testing.T) {
	p := writeTopology(t, threeNodeTopology)
	cfg := state.DefaultCfg()
	cfg.Schedule.Algorithm = "firstfit"
	out := bytes.Buffer{}
	require.NoError(t, compute(&out, p, cfg, false, slog.New(slog.DiscardHandler)))
	assert.Contains(t, out.String(), "firstfit, feasible=true")
	assert.NotContains(t, out.String(), "[0]")
}

func TestComputeErrors(t *testing.T) {
	out := bytes.Buffer{}
	err := compute(&out, filepath.Join(t.TempDir(), "missing.yaml"), state.DefaultCfg(), false, slog.New(slog.DiscardHandler))
	assert.Error(t, err)

	p := writeTopology(t, `parents:
  "0012:4b00:0000:0001": ["0012:4b00:0000:0002"]
  "0012:4b00:0000:0002": ["0012:4b00:0000:0001"]
`)
	err = compute(&out, p, state.DefaultCfg(), false, slog.New(slog.DiscardHandler))
	assert.Error(t, err)

	cfg := state.DefaultCfg()
	cfg.Schedule.Algorithm = "roundrobin"
	err = compute(&out, writeTopology(t, threeNodeTopology), cfg, false, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
