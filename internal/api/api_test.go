package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"trialwhisperer/internal/answer"
	"trialwhisperer/internal/domain"
	"trialwhisperer/internal/metrics"
	"trialwhisperer/internal/service"
)

type fakeService struct {
	answer    domain.Answer
	answerErr error
	chunks    []service.RetrievedChunk
	gotK      int
	elig      domain.EligibilityAssessment
	err       error
}

func (f *fakeService) Retrieve(_ context.Context, _, _ string, k int) ([]service.RetrievedChunk, error) {
	f.gotK = k
	return f.chunks, f.err
}

func (f *fakeService) Answer(context.Context, string, string) (domain.Answer, error) {
	return f.answer, f.answerErr
}

func (f *fakeService) EvaluateEligibility(context.Context, string, domain.PatientProfile) (domain.EligibilityAssessment, error) {
	return f.elig, f.err
}

func (f *fakeService) Trial(_ context.Context, id string) (service.TrialView, error) {
	if f.err != nil {
		return service.TrialView{}, f.err
	}
	return service.TrialView{ID: id, Title: "Aspirin after stroke"}, nil
}

func (f *fakeService) IngestionSummary(context.Context) (service.IngestionSummary, error) {
	return service.IngestionSummary{StudyCount: 2, QueryTerms: []string{"stroke"}, Filters: map[string]any{}}, f.err
}

func newServer(t *testing.T, svc Service) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	log := zaptest.NewLogger(t)
	srv := httptest.NewServer(NewRouter(NewAPIHandler(svc, log), RouterConfig{Metrics: m, Logger: log}))
	t.Cleanup(srv.Close)
	return srv, m
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestAskReturnsAnswer(t *testing.T) {
	svc := &fakeService{answer: domain.Answer{
		Text:      "Pregnant women are excluded.",
		Status:    domain.AnswerStatusAnswered,
		NCTID:     "NCT01234567",
		Citations: []domain.Citation{{NCTID: "NCT01234567", Section: domain.SectionExclusion, TextSnippet: "Pregnant women excluded"}},
	}}
	srv, _ := newServer(t, svc)

	resp, body := post(t, srv.URL+"/ask", `{"query": "Are pregnant women excluded?", "nct_id": "NCT01234567"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Pregnant women are excluded.", body["answer"])
	assert.Equal(t, "answered", body["status"])
	assert.Equal(t, "NCT01234567", body["nct_id"])
	require.Len(t, body["citations"], 1)
	cit := body["citations"].([]any)[0].(map[string]any)
	assert.Equal(t, "exclusion", cit["section"])
}

func TestAskValidation(t *testing.T) {
	srv, _ := newServer(t, &fakeService{})

	resp, body := post(t, srv.URL+"/ask", `{"query": "   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "query")

	resp, _ = post(t, srv.URL+"/ask", `{"query": "x", "extra": 1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := &fakeService{answerErr: fmt.Errorf("%w: bad id", domain.ErrInvalidInput)}
	srv2, _ := newServer(t, bad)
	resp, _ = post(t, srv2.URL+"/ask", `{"query": "x", "nct_id": "NCT1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskUpstreamFailureReturnsUnavailable(t *testing.T) {
	svc := &fakeService{
		answer:    answer.Unavailable(),
		answerErr: &domain.ProviderError{Provider: "qdrant", Op: "search", Temporary: true, Err: errors.New("down")},
	}
	srv, _ := newServer(t, svc)

	resp, body := post(t, srv.URL+"/ask", `{"query": "x"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, answer.UnavailableText, body["answer"])
	assert.Equal(t, "unavailable", body["status"])
	assert.Empty(t, body["citations"])
}

func TestRetrievePassesK(t *testing.T) {
	svc := &fakeService{chunks: []service.RetrievedChunk{{NCTID: "NCT01234567", Section: domain.SectionInclusion, Text: "Age 18-75", Score: 0.9}}}
	srv, _ := newServer(t, svc)

	resp, body := post(t, srv.URL+"/retrieve", `{"query": "age", "k": 3}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, svc.gotK)
	assert.Len(t, body["chunks"], 1)

	resp, _ = post(t, srv.URL+"/retrieve", `{"query": "age", "k": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckEligibility(t *testing.T) {
	svc := &fakeService{elig: domain.EligibilityAssessment{
		NCTID:   "NCT01234567",
		Status:  domain.StatusIneligible,
		Reasons: []string{"fail: minimum age 18 years"},
	}}
	srv, _ := newServer(t, svc)

	resp, body := post(t, srv.URL+"/check-eligibility", `{"nct_id": "NCT01234567", "patient": {"age": 16, "sex": "female"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ineligible", body["status"])
	assert.Equal(t, false, body["eligible"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("trial NCT00000000: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("answer: %w", domain.ErrGenerationFailed), http.StatusBadGateway},
		{&domain.ProviderError{Provider: "gemini", Op: "generate", Err: errors.New("quota")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			srv, _ := newServer(t, &fakeService{err: tc.err})
			resp, err := http.Get(srv.URL + "/trial/NCT00000000")
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestTrialAndSummaryRoutes(t *testing.T) {
	srv, m := newServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/trial/NCT01234567/")
	require.NoError(t, err)
	var view service.TrialView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, "NCT01234567", view.ID)

	resp, err = http.Get(srv.URL + "/metadata/ingestion-summary")
	require.NoError(t, err)
	var sum service.IngestionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	resp.Body.Close()
	assert.Equal(t, 2, sum.StudyCount)
	assert.Equal(t, []string{"stroke"}, sum.QueryTerms)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `trialwhisperer_http_requests_total{code="200",route="/trial/{nctID}"} 1`)
	assert.NotNil(t, m.Registry())
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, &fakeService{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
