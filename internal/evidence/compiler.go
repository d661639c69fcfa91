// Package evidence turns raw fetched content into budgeted, located evidence
// units. Budgets are hard guards: exceeding any of them routes the run to a
// compression pass, never silent truncation.
package evidence

import (
	"fmt"
	"strings"

	"github.com/interlockhq/interlock/internal/run"
)

// Compiler chunks source bodies into evidence objects.
type Compiler struct {
	chunkLines int
}

// NewCompiler creates a Compiler splitting content every chunkLines lines.
func NewCompiler(chunkLines int) *Compiler {
	if chunkLines < 1 {
		chunkLines = 40
	}
	return &Compiler{chunkLines: chunkLines}
}

// Chunk splits one source body into bounded snippets. Evidence ids continue
// from nextID so ids stay unique per run across repeated indexing rounds.
// Every object carries a locator resolvable to its exact origin span.
func (c *Compiler) Chunk(src run.Source, body string, nextID int) []run.EvidenceObject {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return nil
	}
	lines := strings.Split(body, "\n")

	var objs []run.EvidenceObject
	for start := 0; start < len(lines); start += c.chunkLines {
		end := start + c.chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		snippet := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(snippet) == "" {
			continue
		}
		objs = append(objs, run.EvidenceObject{
			EvidenceID:    fmt.Sprintf("E%d", nextID+len(objs)+1),
			SourceID:      src.SourceID,
			Locator:       locatorFor(src, start+1, end),
			Snippet:       snippet,
			TokenEstimate: EstimateTokens(snippet),
			Tags:          []string{src.Type},
		})
	}
	return objs
}

// locatorFor builds a span locator appropriate to the source type: url+anchor
// for web-ish sources, path+line-range for repository files.
func locatorFor(src run.Source, startLine, endLine int) run.Locator {
	if src.Type == "repo" {
		return run.Locator{Path: src.Ref, StartLine: startLine, EndLine: endLine}
	}
	return run.Locator{
		URL:       src.Ref,
		Anchor:    fmt.Sprintf("L%d-L%d", startLine, endLine),
		StartLine: startLine,
		EndLine:   endLine,
	}
}

// EstimateTokens approximates the token cost of a snippet. Four bytes per
// token is the conventional rough cut; budgets only need a consistent
// estimate, not an exact count.
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
