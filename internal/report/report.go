// Package report renders the structured terminal report for a run. Every
// terminal transition carries one: what happened, what is missing, whether a
// human can fix it, and the recommended next action.
package report

import (
	"fmt"

	"github.com/interlockhq/interlock/internal/gates"
	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/run"
)

// nextActions maps failure kinds to the operator action most likely to
// unblock a rerun.
var nextActions = map[string]string{
	govern.KindAmbiguity:       "clarify the ticket or trigger and rerun",
	govern.KindLowQuality:      "review the drafted plan and adjust the quality rubric or the ticket scope",
	govern.KindCoverageGap:     "supply sources covering the unmet acceptance criteria and rerun",
	govern.KindSchemaViolation: "inspect the listed fields and rerun",
	govern.KindBudgetExceeded:  "raise the evidence budgets or narrow the ticket scope",
	govern.KindGrounding:       "supply evidence for the uncited plan steps and rerun",
	govern.KindPinnedOverwrite: "file a defect: a pinned requirement was rewritten mid-run",
	govern.KindCancelled:       "rerun the ticket when ready",
	"access-denied":            "grant the connector access to the failing source and rerun",
	"permission-denied":        "grant the connector access to the failing source and rerun",
	"not-found":                "fix the source reference and rerun",
	"rate-limited":             "wait for the provider limit to reset and rerun",
	"timeout":                  "check provider availability and rerun",
	"provider-error":           "check provider availability and rerun",
}

// Success builds the report for a delivered run.
func Success(snap *run.Snapshot, receipt *run.PostReceipt) *run.Report {
	r := &run.Report{
		State:           run.StatePostResult,
		Status:          run.StatusPosted,
		ReasonCode:      "posted",
		Fixable:         false,
		Summary:         fmt.Sprintf("resolution plan posted as %s", receipt.PostedID),
		OpenUnknowns:    snap.Working.OpenUnknowns,
		NextAction:      "none",
		SearchRounds:    snap.Governance.SearchRounds,
		RetriesConsumed: totalRetries(snap),
	}
	return r
}

// Failure builds the report for an escalated run. Target is the terminal
// state, kind the failure kind, and reason the escalation reason.
func Failure(snap *run.Snapshot, target run.State, kind, reason string) *run.Report {
	r := &run.Report{
		State:           target,
		Status:          run.TerminalStatus(target),
		ReasonCode:      kind,
		Fixable:         govern.Fixable(kind),
		Summary:         reason,
		MissingFields:   gates.MissingFields(snap.LastValidation),
		CoverageGaps:    coverageGaps(snap),
		OpenUnknowns:    snap.Working.OpenUnknowns,
		NextAction:      nextAction(kind),
		SearchRounds:    snap.Governance.SearchRounds,
		RetriesConsumed: totalRetries(snap),
	}
	for _, v := range snap.LastValidation.Violations {
		r.Findings = append(r.Findings, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return r
}

func nextAction(kind string) string {
	if a, ok := nextActions[kind]; ok {
		return a
	}
	return "inspect the event log and rerun"
}

func coverageGaps(snap *run.Snapshot) []string {
	var gaps []string
	for _, e := range snap.Working.Coverage {
		if !e.Satisfied() {
			gaps = append(gaps, e.Criterion)
		}
	}
	return gaps
}

func totalRetries(snap *run.Snapshot) int {
	total := 0
	for _, n := range snap.Governance.RetryCount {
		total += n
	}
	return total
}
