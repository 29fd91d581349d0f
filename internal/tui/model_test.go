package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trialwhisperer/internal/domain"
)

func TestSplitQuery(t *testing.T) {
	cases := []struct {
		raw, id, q string
	}{
		{"NCT01234567: are pregnant women excluded?", "NCT01234567", "are pregnant women excluded?"},
		{"  nct01234567 > age limits", "NCT01234567", "age limits"},
		{"what trials study stroke?", "", "what trials study stroke?"},
		{"NCT0123: too short", "", "NCT0123: too short"},
	}
	for _, tc := range cases {
		id, q := SplitQuery(tc.raw)
		assert.Equal(t, tc.id, id, tc.raw)
		assert.Equal(t, tc.q, q, tc.raw)
	}
}

func TestHighlightBestSentence(t *testing.T) {
	text := "Adults aged 18 to 75. Pregnant or nursing women are excluded. ECOG 0-1"
	out := highlightBestSentence(text, "pregnant women")
	assert.Contains(t, out, highlightStyle.Render("Pregnant or nursing women are excluded."))
	assert.Contains(t, out, "Adults aged 18 to 75.")
	assert.Contains(t, out, "ECOG 0-1")

	assert.Equal(t, "", highlightBestSentence("", "q"))
	assert.Equal(t, "One. Two.", highlightBestSentence("One.  Two.", ""))
}

type fakeAsk struct {
	gotQuery, gotID string
	ans             domain.Answer
	err             error
}

func (f *fakeAsk) Answer(_ context.Context, q, id string) (domain.Answer, error) {
	f.gotQuery, f.gotID = q, id
	return f.ans, f.err
}

func send(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	require.True(t, ok)
	return mm, cmd
}

func TestAskFlow(t *testing.T) {
	svc := &fakeAsk{ans: domain.Answer{
		Text:   "Pregnant women are excluded.",
		Status: domain.AnswerStatusAnswered,
		NCTID:  "NCT01234567",
		Citations: []domain.Citation{
			{NCTID: "NCT01234567", Section: domain.SectionExclusion, TextSnippet: "Pregnant women excluded"},
			{NCTID: "NCT01234567", Section: domain.SectionInclusion, TextSnippet: "Age 18-75"},
		},
	}}
	m := New(svc, "2 trials indexed", 0)
	m, _ = send(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	m.input.SetValue("NCT01234567: are pregnant women excluded?")

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.busy)
	msg := m.ask("are pregnant women excluded?", "NCT01234567")()
	assert.Equal(t, "NCT01234567", svc.gotID)
	assert.Equal(t, "are pregnant women excluded?", svc.gotQuery)

	m, _ = send(t, m, msg)
	assert.False(t, m.busy)
	require.NotNil(t, m.answer)
	assert.Contains(t, m.renderAnswer(), "Citation 1/2")
	assert.Contains(t, m.status, "NCT01234567")

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderAnswer(), "Citation 2/2")
	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.cursor)
	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)
}

func TestAskErrorWithoutAnswer(t *testing.T) {
	m := New(&fakeAsk{}, "", 0)
	m, _ = send(t, m, answerMsg{query: "q", err: errors.New("invalid input")})
	assert.Nil(t, m.answer)
	assert.Equal(t, "Error: invalid input", m.status)
	assert.Equal(t, "No answer yet.", m.renderAnswer())
}
