package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"trialwhisperer/internal/domain"
)

// AskPort is the TUI-facing subset of the RAG service.
type AskPort interface {
	Answer(ctx context.Context, query, nctID string) (domain.Answer, error)
}

type answerMsg struct {
	query string
	ans   domain.Answer
	err   error
}

// Model is the Bubble Tea model for the question-answering screen.
type Model struct {
	service  AskPort
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	summary  string
	status   string
	answer   *domain.Answer
	query    string
	cursor   int
	busy     bool
	ready    bool
}

// New creates the model. summary is shown under the header.
func New(service AskPort, summary string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, optionally prefixed with NCT01234567:"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return Model{
		service:  service,
		timeout:  timeout,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		summary:  summary,
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, summary, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil && msg.ans.Status == "" {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			m.status = statusLine(msg.query, msg.ans, msg.err)
			ans := msg.ans
			m.answer = &ans
			m.cursor = 0
			m.query = msg.query
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" || m.busy {
				return m, nil
			}
			nctID, q := SplitQuery(raw)
			m.busy = true
			m.status = "Thinking..."
			m.input.Reset()
			return m, tea.Batch(m.spinner.Tick, m.ask(q, nctID))
		case "down":
			if n := m.citationCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if n := m.citationCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(query, nctID string) tea.Cmd {
	svc, timeout := m.service, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ans, err := svc.Answer(ctx, query, nctID)
		return answerMsg{query: query, ans: ans, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Trial Whisperer")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	st := m.status
	if m.busy {
		st = m.spinner.View() + " " + st
	}
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(st)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) citationCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Citations)
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.answer.Text)
	if len(m.answer.Citations) == 0 {
		return b.String()
	}
	c := m.answer.Citations[m.cursor]
	fmt.Fprintf(&b, "\n\n%s\n\n", citationStyle.Render(
		fmt.Sprintf("Citation %d/%d  %s / %s", m.cursor+1, len(m.answer.Citations), c.NCTID, c.Section)))
	b.WriteString(highlightBestSentence(c.TextSnippet, m.query))
	return b.String()
}

func statusLine(query string, ans domain.Answer, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("%s (%v)", ans.Status, err)
	case ans.NCTID != "":
		return fmt.Sprintf("%s for %q in %s", ans.Status, query, ans.NCTID)
	}
	return fmt.Sprintf("%s for %q", ans.Status, query)
}

var nctPrefixRe = regexp.MustCompile(`(?i)^\s*(NCT\d{8})\s*[:>]\s*`)

// SplitQuery extracts a leading "NCT01234567:" trial filter from raw input.
func SplitQuery(raw string) (nctID, query string) {
	if loc := nctPrefixRe.FindStringSubmatchIndex(raw); loc != nil {
		return strings.ToUpper(raw[loc[2]:loc[3]]), strings.TrimSpace(raw[loc[1]:])
	}
	return "", strings.TrimSpace(raw)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	citationStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)
	sentenceRe     = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// highlightBestSentence styles the sentence of text sharing the most tokens
// with query. Ties go to the earliest sentence.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	for i := range sentences {
		sentences[i] = strings.TrimSpace(sentences[i])
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx, bestScore := 0, -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	sentences[bestIdx] = highlightStyle.Render(sentences[bestIdx])
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
