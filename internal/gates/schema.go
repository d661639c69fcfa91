package gates

import (
	"fmt"
	"strings"

	"github.com/interlockhq/interlock/internal/run"
)

// RequiredFields is the rigid per-state contract: the snapshot fields each
// producing state must have filled before the run may advance. The schema
// gate reports one violation per missing or invalid field and never repairs.
var RequiredFields = map[run.State][]string{
	run.StateParseIntent:        {"intent.ticket_ref", "intent.goal"},
	run.StateValidateScope:      {"scope_checked"},
	run.StateFetchJira:          {"ticket.key", "ticket.title", "ticket.description"},
	run.StatePinRequirements:    {"pinned.problem_statement", "pinned.acceptance_criteria", "pinned.definition_of_done"},
	run.StateFetchSources:       {"sources"},
	run.StateBuildEvidenceIndex: {"evidence"},
	run.StateCompression:        {"evidence"},
	run.StateExtractEntities:    {"entities"},
	run.StateGeneratePlan:       {"plan"},
	run.StateVerifyCoverage:     {"coverage"},
}

var entityKinds = map[string]bool{
	"service":   true,
	"endpoint":  true,
	"config":    true,
	"dataset":   true,
	"component": true,
}

// Schema validates the candidate snapshot against the producing state's
// required fields.
func Schema(state run.State, snap *run.Snapshot) run.ValidationResult {
	var vs []run.Violation

	switch state {
	case run.StateParseIntent:
		in := snap.Working.Intent
		if in == nil {
			vs = append(vs, missing("intent"))
			break
		}
		if strings.TrimSpace(in.TicketRef) == "" {
			vs = append(vs, missing("intent.ticket_ref"))
		}
		if strings.TrimSpace(in.Goal) == "" {
			vs = append(vs, missing("intent.goal"))
		}

	case run.StateValidateScope:
		if !snap.Working.ScopeChecked {
			vs = append(vs, missing("scope_checked"))
		}

	case run.StateFetchJira:
		t := snap.Working.Ticket
		if t == nil {
			vs = append(vs, missing("ticket"))
			break
		}
		if strings.TrimSpace(t.Key) == "" {
			vs = append(vs, missing("ticket.key"))
		}
		if strings.TrimSpace(t.Title) == "" {
			vs = append(vs, missing("ticket.title"))
		}
		if strings.TrimSpace(t.Description) == "" {
			vs = append(vs, missing("ticket.description"))
		}

	case run.StatePinRequirements:
		p := snap.Pinned
		if strings.TrimSpace(p.ProblemStatement) == "" {
			vs = append(vs, missing("pinned.problem_statement"))
		}
		vs = append(vs, nonEmptyList("pinned.acceptance_criteria", p.AcceptanceCriteria)...)
		vs = append(vs, nonEmptyList("pinned.definition_of_done", p.DefinitionOfDone)...)

	case run.StateFetchSources:
		if len(snap.Working.Sources) == 0 {
			vs = append(vs, missing("sources"))
		}
		for i, s := range snap.Working.Sources {
			if strings.TrimSpace(s.SourceID) == "" || strings.TrimSpace(s.Type) == "" || strings.TrimSpace(s.Ref) == "" {
				vs = append(vs, invalid(fmt.Sprintf("sources[%d]", i), "source_id, type, and ref are required"))
			}
		}

	case run.StateBuildEvidenceIndex, run.StateCompression:
		cur := snap.CurrentEvidence()
		if len(cur) == 0 {
			vs = append(vs, missing("evidence"))
		}
		for i, e := range cur {
			if strings.TrimSpace(e.EvidenceID) == "" || strings.TrimSpace(e.SourceID) == "" {
				vs = append(vs, invalid(fmt.Sprintf("evidence[%d]", i), "evidence_id and source_id are required"))
				continue
			}
			if strings.TrimSpace(e.Snippet) == "" {
				vs = append(vs, invalid(fmt.Sprintf("evidence[%d].snippet", i), "must be non-empty"))
			}
			if e.Locator.URL == "" && e.Locator.Path == "" {
				vs = append(vs, invalid(fmt.Sprintf("evidence[%d].locator", i), "must carry a url or path"))
			}
		}

	case run.StateExtractEntities:
		if len(snap.Working.Entities) == 0 {
			vs = append(vs, missing("entities"))
		}
		for i, e := range snap.Working.Entities {
			if strings.TrimSpace(e.Name) == "" {
				vs = append(vs, invalid(fmt.Sprintf("entities[%d].name", i), "must be non-empty"))
			}
			if !entityKinds[e.Kind] {
				vs = append(vs, invalid(fmt.Sprintf("entities[%d].kind", i), fmt.Sprintf("unrecognized kind %q", e.Kind)))
			}
		}

	case run.StateGeneratePlan:
		vs = append(vs, planViolations(snap)...)

	case run.StateVerifyCoverage:
		if len(snap.Working.Coverage) < len(snap.Pinned.AcceptanceCriteria) {
			vs = append(vs, invalid("coverage", "must carry one entry per acceptance criterion"))
		}
	}

	if len(vs) > 0 {
		return fail("schema", vs)
	}
	return ok("schema")
}

func planViolations(snap *run.Snapshot) []run.Violation {
	var vs []run.Violation
	plan := snap.Working.Plan
	if len(plan) == 0 {
		return []run.Violation{missing("plan")}
	}

	steps := map[string]bool{}
	for _, s := range plan {
		steps[s.StepID] = true
	}
	criteria := map[string]bool{}
	for i := range snap.Pinned.AcceptanceCriteria {
		criteria[fmt.Sprintf("AC%d", i+1)] = true
	}

	for i, s := range plan {
		prefix := fmt.Sprintf("plan[%d]", i)
		if strings.TrimSpace(s.StepID) == "" {
			vs = append(vs, missing(prefix+".step_id"))
		}
		if strings.TrimSpace(s.Description) == "" {
			vs = append(vs, missing(prefix+".description"))
		}
		if s.Kind != "implement" && s.Kind != "validate" {
			vs = append(vs, invalid(prefix+".kind", fmt.Sprintf("unrecognized kind %q", s.Kind)))
		}
		for _, dep := range s.DependsOn {
			if !steps[dep] {
				vs = append(vs, invalid(prefix+".depends_on", fmt.Sprintf("references unknown step %q", dep)))
			}
		}
		for _, ref := range s.Requirements {
			if !criteria[ref] {
				vs = append(vs, invalid(prefix+".requirements", fmt.Sprintf("references unknown criterion %q", ref)))
			}
		}
	}
	return vs
}

func missing(field string) run.Violation {
	return run.Violation{Field: field, Code: CodeRequired, Message: "is required"}
}

func invalid(field, msg string) run.Violation {
	return run.Violation{Field: field, Code: CodeInvalid, Message: msg}
}

func nonEmptyList(field string, items []string) []run.Violation {
	if len(items) == 0 {
		return []run.Violation{missing(field)}
	}
	var vs []run.Violation
	for i, it := range items {
		if strings.TrimSpace(it) == "" {
			vs = append(vs, invalid(fmt.Sprintf("%s[%d]", field, i), "must be non-empty"))
		}
	}
	return vs
}
