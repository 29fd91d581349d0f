package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trialwhisperer/internal/chunker"
	"trialwhisperer/internal/chunkstore"
	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/normalizer"
)

type memRepo struct {
	mu     sync.Mutex
	trials map[string]domain.TrialRecord
}

func (r *memRepo) Save(_ context.Context, recs ...domain.TrialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trials == nil {
		r.trials = map[string]domain.TrialRecord{}
	}
	for _, rec := range recs {
		r.trials[rec.NCTID] = rec
	}
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (domain.TrialRecord, error) {
	rec, ok := r.trials[id]
	if !ok {
		return domain.TrialRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *memRepo) Count(context.Context) (int, error) { return len(r.trials), nil }

func (r *memRepo) LastUpdated(context.Context) (time.Time, error) { return time.Time{}, nil }

func raw(source, data string) normalizer.RawRecord {
	return normalizer.RawRecord{Source: source, Data: []byte(data)}
}

func TestRunScenarioProducesTwoChunks(t *testing.T) {
	repo := &memRepo{}
	m := metrics.New()
	chunksPath := filepath.Join(t.TempDir(), "chunks.jsonl")
	p := New(chunker.NewSentenceChunker(chunker.DefaultConfig()), repo, Config{Workers: 3, ChunksPath: chunksPath}, zaptest.NewLogger(t), m)

	res, err := p.Run(context.Background(), []normalizer.RawRecord{
		raw("a", `{"nct_id": "nct01234567", "inclusion": "Age 18-75, ECOG 0-1", "exclusion": "Pregnant women excluded"}`),
		raw("b", `{"unknown": true}`),
		raw("c", `{"nct_id": "NCT00000002", "title": "Old title"}`),
		raw("d", `{"nct_id": "NCT00000002", "title": "New title"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, Report{Read: 4, Normalized: 3, Superseded: 1, Chunks: 3,
		Failed: []RecordFailure{{Source: "b", Error: res.Report.Failed[0].Error}}}, res.Report)
	require.Len(t, res.Trials, 2)
	assert.Equal(t, "NCT01234567", res.Trials[0].NCTID)
	assert.Equal(t, "New title", res.Trials[1].Title)

	require.Len(t, res.Chunks, 3)
	assert.Equal(t, domain.SectionInclusion, res.Chunks[0].Section)
	assert.Equal(t, "Age 18-75, ECOG 0-1", res.Chunks[0].Text)
	assert.Equal(t, domain.SectionExclusion, res.Chunks[1].Section)
	assert.Equal(t, "NCT00000002", res.Chunks[2].TrialID)

	onDisk, err := chunkstore.ReadFile(chunksPath)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, onDisk)

	assert.Len(t, repo.trials, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrialsNormalized.WithLabelValues("ok")))
}

func TestRunIsDeterministic(t *testing.T) {
	var raws []normalizer.RawRecord
	for _, id := range []string{"NCT00000011", "NCT00000012", "NCT00000013", "NCT00000014", "NCT00000015"} {
		raws = append(raws, raw(id, `{"nct_id": "`+id+`", "summary": "First sentence. Second sentence.", "exclusion": ["Smokers", "Minors"]}`))
	}
	p := New(chunker.NewSentenceChunker(chunker.DefaultConfig()), nil, Config{Workers: 8}, nil, nil)
	first, err := p.Run(context.Background(), raws)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), raws)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, "NCT00000011", first.Chunks[0].TrialID)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(chunker.NewSentenceChunker(chunker.DefaultConfig()), nil, Config{}, nil, nil)
	_, err := p.Run(ctx, []normalizer.RawRecord{raw("a", `{"nct_id": "NCT00000001"}`)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("a.json", `[{"nct_id": "NCT00000001"}, {"nct_id": "NCT00000002"}]`)
	write("b.jsonl", "{\"nct_id\": \"NCT00000003\"}\n\n{\"nct_id\": \"NCT00000004\"}\n")
	write("c.xml", `<clinical_study><id_info><nct_id>NCT00000005</nct_id></id_info></clinical_study>`)
	write("d.json", `{"studies": [{"nct_id": "NCT00000006"}]}`)
	write("notes.txt", "ignored")

	raws, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, raws, 6)
	assert.Equal(t, filepath.Join(dir, "a.json")+"[1]", raws[1].Source)
	assert.Equal(t, filepath.Join(dir, "b.jsonl")+":3", raws[3].Source)
	assert.Equal(t, normalizer.FormatXML, raws[4].Format)

	recs, errs := normalizer.NormalizeAll(raws)
	assert.Empty(t, errs)
	assert.Len(t, recs, 6)
}

func TestWriteStudiesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw", "studies.jsonl")
	studies := []json.RawMessage{json.RawMessage(`{"nct_id": "NCT00000001"}`), json.RawMessage("{\n\"nct_id\": \"NCT00000002\"}")}
	require.NoError(t, WriteStudies(path, studies))

	raws, err := LoadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.JSONEq(t, `{"nct_id": "NCT00000002"}`, string(raws[1].Data))
	assert.Len(t, FromStudies(studies), 2)
}
