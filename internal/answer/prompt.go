package answer

import (
	"fmt"
	"regexp"
	"strings"

	"trialwhisperer/internal/domain"
)

// SystemInstruction is sent to generators that accept one.
const SystemInstruction = "You are a careful assistant answering questions about clinical-trial protocols. " +
	"You only state facts found in the provided passages and you cite every claim."

const (
	contextHeader  = "Context:\n"
	questionHeader = "\nQuestion: "
)

var labelLine = regexp.MustCompile(`(?m)^\[(NCT\d{8})\|([a-z_]+)\]$`)

// ContextBlock is one labelled passage embedded in a prompt.
type ContextBlock struct {
	NCTID   string
	Section domain.Section
	Text    string
}

// Label renders the citation label for a block.
func Label(nctID string, section domain.Section) string {
	return fmt.Sprintf("[%s|%s]", nctID, section)
}

// BuildPrompt embeds only the retrieved chunk texts, each under its label.
func BuildPrompt(query string, hits []domain.SearchHit) string {
	var b strings.Builder
	b.WriteString("Answer the question using ONLY the passages in the context below.\n")
	b.WriteString("Each passage starts with a label such as [NCT01234567|inclusion].\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only facts stated in the passages. If they do not contain the answer, say that the protocol text provided does not state it.\n")
	b.WriteString("- Cite every claim with the label of the passage it comes from.\n")
	b.WriteString(`- Reply with one JSON object: {"answer": "...", "citations": [{"nct_id": "...", "section": "...", "quote": "text copied exactly from the passage"}]}` + "\n\n")
	b.WriteString(contextHeader)
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(Label(h.Chunk.TrialID, h.Chunk.Section))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(h.Chunk.Text))
		b.WriteString("\n")
	}
	b.WriteString(questionHeader)
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n")
	return b.String()
}

// ParsePrompt recovers the question and context blocks from a prompt made by
// BuildPrompt. Offline generators use it to answer from the same material.
func ParsePrompt(prompt string) (string, []ContextBlock) {
	start := strings.Index(prompt, contextHeader)
	end := strings.LastIndex(prompt, questionHeader)
	if start < 0 || end < start {
		return strings.TrimSpace(prompt), nil
	}
	question := strings.TrimSpace(prompt[end+len(questionHeader):])
	body := prompt[start+len(contextHeader) : end]
	locs := labelLine.FindAllStringSubmatchIndex(body, -1)
	blocks := make([]ContextBlock, 0, len(locs))
	for i, loc := range locs {
		stop := len(body)
		if i+1 < len(locs) {
			stop = locs[i+1][0]
		}
		blocks = append(blocks, ContextBlock{
			NCTID:   body[loc[2]:loc[3]],
			Section: domain.Section(body[loc[4]:loc[5]]),
			Text:    strings.TrimSpace(body[loc[1]:stop]),
		})
	}
	return question, blocks
}
