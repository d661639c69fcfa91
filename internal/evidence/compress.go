package evidence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/interlockhq/interlock/internal/run"
)

// Compress merges an over-budget evidence set into fewer, denser objects.
// It returns only the replacement objects; each one records the evidence ids
// it subsumes, so provenance survives and the originals stay in the log for
// audit. On an already-in-budget set it returns (nil, false): compression is
// idempotent.
//
// The merge is deterministic: objects group by source in first-seen order,
// each group collapses to one object, and snippets are truncated evenly when
// the token budget still binds.
func Compress(objs []run.EvidenceObject, b run.Budgets, nextID int) ([]run.EvidenceObject, bool) {
	if CheckBudget(objs, b) == nil {
		return nil, false
	}

	groups, order := groupBySource(objs)

	// Every group collapses to a fresh object, singletons included: inputs
	// are immutable, so even a trim must land in a new object that subsumes
	// the original.
	var merged []run.EvidenceObject
	id := nextID
	for _, sourceID := range order {
		id++
		merged = append(merged, mergeGroup(groups[sourceID], id))
	}

	// If distinct sources still exceed the item budget, collapse the tail
	// into one cross-source digest.
	if len(merged) > b.MaxEvidenceItems {
		head := merged[:b.MaxEvidenceItems-1]
		tail := merged[b.MaxEvidenceItems-1:]
		id++
		merged = append(append([]run.EvidenceObject{}, head...), mergeGroup(tail, id))
	}

	merged = fitTokenBudget(merged, b.MaxEvidenceTokens)
	return merged, true
}

func groupBySource(objs []run.EvidenceObject) (map[string][]run.EvidenceObject, []string) {
	groups := map[string][]run.EvidenceObject{}
	var order []string
	for _, o := range objs {
		if _, ok := groups[o.SourceID]; !ok {
			order = append(order, o.SourceID)
		}
		groups[o.SourceID] = append(groups[o.SourceID], o)
	}
	return groups, order
}

// mergeGroup collapses a group into one object spanning the group's extent.
// The merged snippet keeps the head of each input in input order.
func mergeGroup(group []run.EvidenceObject, id int) run.EvidenceObject {
	const perInput = 280 // bytes of each input snippet retained

	subsumes := make([]string, 0, len(group))
	parts := make([]string, 0, len(group))
	tags := map[string]bool{}
	loc := group[0].Locator
	for _, o := range group {
		// Transitively subsume: merging an earlier merge absorbs its inputs.
		subsumes = append(subsumes, o.EvidenceID)
		subsumes = append(subsumes, o.Subsumes...)
		parts = append(parts, truncate(o.Snippet, perInput))
		for _, t := range o.Tags {
			tags[t] = true
		}
		if o.Locator.StartLine > 0 && (loc.StartLine == 0 || o.Locator.StartLine < loc.StartLine) {
			loc.StartLine = o.Locator.StartLine
		}
		if o.Locator.EndLine > loc.EndLine {
			loc.EndLine = o.Locator.EndLine
		}
	}
	sort.Strings(subsumes)

	tagList := make([]string, 0, len(tags))
	for t := range tags {
		tagList = append(tagList, t)
	}
	sort.Strings(tagList)

	snippet := strings.Join(parts, "\n---\n")
	return run.EvidenceObject{
		EvidenceID:    fmt.Sprintf("C%d", id),
		SourceID:      group[0].SourceID,
		Locator:       loc,
		Snippet:       snippet,
		TokenEstimate: EstimateTokens(snippet),
		Tags:          tagList,
		Subsumes:      subsumes,
	}
}

// fitTokenBudget truncates snippets evenly until the set fits the token
// budget. Locators and provenance are untouched; only snippet text shrinks.
func fitTokenBudget(objs []run.EvidenceObject, maxTokens int) []run.EvidenceObject {
	total := 0
	for _, o := range objs {
		total += o.TokenEstimate
	}
	if total <= maxTokens || len(objs) == 0 {
		return objs
	}

	perObject := maxTokens / len(objs)
	if perObject < 1 {
		perObject = 1
	}
	out := make([]run.EvidenceObject, len(objs))
	for i, o := range objs {
		if o.TokenEstimate > perObject {
			o.Snippet = truncate(o.Snippet, perObject*4)
			o.TokenEstimate = EstimateTokens(o.Snippet)
		}
		out[i] = o
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
