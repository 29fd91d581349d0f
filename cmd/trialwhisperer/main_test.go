package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()), "trialwhisperer %v", args)
	return out.String()
}

func TestIngestThenQuery(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "a.json"), []byte(`{
		"nct_id": "NCT01234567",
		"title": "Aspirin after stroke",
		"inclusion": "Age 18-75, ECOG 0-1",
		"exclusion": "Pregnant women excluded"
	}`), 0o644))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\ndata:\n  dir: "+dir+"\n"), 0o644))

	var report struct {
		Normalized int `json:"normalized"`
		Chunks     int `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, "--config", cfgPath, "ingest")), &report))
	assert.Equal(t, 1, report.Normalized)
	assert.Positive(t, report.Chunks)
	assert.FileExists(t, filepath.Join(dir, "chunks.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "trials.db"))

	var verdict struct {
		Status   string `json:"status"`
		Eligible bool   `json:"eligible"`
	}
	out := run(t, "--config", cfgPath, "eligibility", "NCT01234567", "--age", "16", "--sex", "female")
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.Equal(t, "ineligible", verdict.Status)
	assert.False(t, verdict.Eligible)

	var ans struct {
		Status    string `json:"status"`
		NCTID     string `json:"nct_id"`
		Citations []struct {
			Section string `json:"section"`
		} `json:"citations"`
	}
	out = run(t, "--config", cfgPath, "ask", "Are pregnant women excluded?", "--nct", "NCT01234567", "--json")
	require.NoError(t, json.Unmarshal([]byte(out), &ans))
	assert.Equal(t, "answered", ans.Status)
	assert.Equal(t, "NCT01234567", ans.NCTID)
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, "exclusion", ans.Citations[0].Section)
}

func TestRootRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range newRootCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"fetch", "ingest", "index", "retrieve", "ask", "eligibility", "serve", "tui", "eval"} {
		assert.True(t, names[want], want)
	}
}
