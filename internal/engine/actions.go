package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/interlockhq/interlock/internal/connector"
	"github.com/interlockhq/interlock/internal/evidence"
	"github.com/interlockhq/interlock/internal/gates"
	"github.com/interlockhq/interlock/internal/govern"
	"github.com/interlockhq/interlock/internal/report"
	"github.com/interlockhq/interlock/internal/run"
)

// outcome is what a state action hands back to the commit step: either a
// gate-validated delta or a classified failure. gapRatio rides along for
// coverage failures so the backward-edge decision stays deterministic.
type outcome struct {
	delta      *run.Delta
	validation run.ValidationResult
	hashes     []string
	err        error
	kind       string
	context    string
	gapRatio   float64
}

func success(delta *run.Delta, v run.ValidationResult, hashes []string) *outcome {
	return &outcome{delta: delta, validation: v, hashes: hashes}
}

func failure(err error, kind, context string, hashes []string) *outcome {
	return &outcome{
		err:     err,
		kind:    kind,
		context: context,
		hashes:  hashes,
		validation: run.ValidationResult{
			Gate: "action", OK: false,
			Violations: []run.Violation{{Code: gates.CodeInvalid, Message: err.Error()}},
		},
	}
}

// classify maps a collaborator error to its stable kind. Context deadline
// expiry is a normal action failure with kind timeout.
func classify(err error) string {
	if k := connector.Kind(err); k != "" {
		return k
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return "provider-error"
}

// execute runs one non-terminal state's action against the collaborators.
func (e *Engine) execute(ctx context.Context, snap *run.Snapshot, state run.State) *outcome {
	switch state {
	case run.StateParseIntent:
		return e.parseIntent(ctx, snap)
	case run.StateValidateScope:
		return e.validateScope(ctx, snap)
	case run.StateFetchJira:
		return e.fetchJira(ctx, snap)
	case run.StatePinRequirements:
		return e.pinRequirements(ctx, snap)
	case run.StateFetchSources:
		return e.fetchSources(ctx, snap)
	case run.StateBuildEvidenceIndex:
		return e.buildEvidenceIndex(ctx, snap)
	case run.StateCompression:
		return e.compress(snap)
	case run.StateExtractEntities:
		return e.extractEntities(ctx, snap)
	case run.StateGeneratePlan:
		return e.generatePlan(ctx, snap)
	case run.StateGroundingValidate:
		return e.groundingValidate(snap)
	case run.StateVerifyCoverage:
		return e.verifyCoverage(snap)
	case run.StateQualityReview:
		return e.qualityReview(snap)
	default:
		return failure(fmt.Errorf("no action for state %s", state), govern.KindSchemaViolation, string(state), nil)
	}
}

// checkSchema previews the candidate event and runs the schema gate over the
// resulting snapshot. A rejected candidate is discarded, never repaired.
func (e *Engine) checkSchema(snap *run.Snapshot, state run.State, delta *run.Delta, hashes []string) *outcome {
	preview, err := snap.Preview(run.Event{
		Seq:        snap.Seq + 1,
		RunID:      snap.RunID,
		State:      state,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "schema", OK: true},
		Delta:      delta,
	})
	if errors.Is(err, run.ErrPinnedOverwrite) {
		out := failure(err, govern.KindPinnedOverwrite, run.SigPinnedOverwrite, hashes)
		out.validation.Gate = "pinned"
		return out
	}
	if err != nil {
		return failure(err, govern.KindSchemaViolation, string(state), hashes)
	}

	res := gates.Schema(state, preview)
	if !res.OK {
		out := failure(fmt.Errorf("schema gate: %s", firstViolation(res)), govern.KindSchemaViolation,
			strings.Join(gates.MissingFields(res), ","), hashes)
		out.validation = res
		return out
	}
	return success(delta, res, hashes)
}

func firstViolation(res run.ValidationResult) string {
	if len(res.Violations) == 0 {
		return "failed"
	}
	v := res.Violations[0]
	return fmt.Sprintf("%s %s", v.Field, v.Message)
}

// propose calls the model for a schema-conforming object and decodes it.
func (e *Engine) propose(ctx context.Context, schema connector.Schema, payload, into any) ([]string, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s context: %w", schema.Name, err)
	}
	resp, err := e.model.Propose(ctx, schema, reqBody)
	if err != nil {
		return nil, err
	}
	hash := toolCallHash("model:"+schema.Name, reqBody, resp)
	if err := json.Unmarshal(resp, into); err != nil {
		return []string{hash}, fmt.Errorf("%w: decode %s response: %v", connector.ErrSchemaViolation, schema.Name, err)
	}
	return []string{hash}, nil
}

func (e *Engine) parseIntent(ctx context.Context, snap *run.Snapshot) *outcome {
	r, err := e.store.GetRun(ctx, snap.RunID)
	if err != nil {
		return failure(err, "provider-error", "run-index", nil)
	}

	var intent run.Intent
	hashes, err := e.propose(ctx, connector.Schema{Name: "intent", Version: "v1"},
		map[string]string{"ticket_ref": r.TicketRef}, &intent)
	if err != nil {
		return failure(err, classify(err), "intent", hashes)
	}

	if strings.TrimSpace(intent.Goal) == "" {
		return failure(fmt.Errorf("trigger for %s yields no actionable goal", r.TicketRef),
			govern.KindAmbiguity, "empty-goal", hashes)
	}

	delta := &run.Delta{Working: &run.WorkingDelta{
		Intent:          &intent,
		AddOpenUnknowns: intent.Unknowns,
	}}
	return e.checkSchema(snap, run.StateParseIntent, delta, hashes)
}

// validateScope confirms tooling access to the project's documentation
// space before anything is pinned. A denied probe here fails fast instead
// of surfacing halfway through evidence gathering.
func (e *Engine) validateScope(ctx context.Context, snap *run.Snapshot) *outcome {
	ref := connector.Reference{
		Type: "confluence",
		ID:   projectKey(snap.Working.Intent.TicketRef),
		Hint: "scope-probe",
	}
	res, err := e.conn.Fetch(ctx, ref)
	if err != nil {
		return failure(err, classify(err), ref.Type, nil)
	}
	hash := toolCallHash("fetch:"+ref.Type, []byte(ref.ID), []byte(res.Content))

	checked := true
	delta := &run.Delta{Working: &run.WorkingDelta{ScopeChecked: &checked}}
	return e.checkSchema(snap, run.StateValidateScope, delta, []string{hash})
}

// projectKey extracts the tracker project prefix from a ticket reference,
// "OPS" from "OPS-1234".
func projectKey(ticketRef string) string {
	if i := strings.IndexByte(ticketRef, '-'); i > 0 {
		return ticketRef[:i]
	}
	return ticketRef
}

func (e *Engine) fetchJira(ctx context.Context, snap *run.Snapshot) *outcome {
	ref := connector.Reference{Type: "jira", ID: snap.Working.Intent.TicketRef}
	res, err := e.conn.Fetch(ctx, ref)
	if err != nil {
		return failure(err, classify(err), ref.Type, nil)
	}
	hash := toolCallHash("fetch:"+ref.Type, []byte(ref.ID), []byte(res.Content))

	var ticket run.Ticket
	if err := json.Unmarshal([]byte(res.Content), &ticket); err != nil {
		return failure(fmt.Errorf("%w: decode ticket %s: %v", connector.ErrSchemaViolation, ref.ID, err),
			govern.KindSchemaViolation, ref.Type, []string{hash})
	}

	delta := &run.Delta{Working: &run.WorkingDelta{Ticket: &ticket}}
	return e.checkSchema(snap, run.StateFetchJira, delta, []string{hash})
}

// requirementsProposal is the model response shape for requirement pinning.
type requirementsProposal struct {
	ProblemStatement   string   `json:"problem_statement"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Constraints        []string `json:"constraints"`
	DefinitionOfDone   []string `json:"definition_of_done"`
}

func (e *Engine) pinRequirements(ctx context.Context, snap *run.Snapshot) *outcome {
	var prop requirementsProposal
	hashes, err := e.propose(ctx, connector.Schema{Name: "requirements", Version: "v1"},
		map[string]any{"ticket": snap.Working.Ticket, "goal": snap.Working.Intent.Goal}, &prop)
	if err != nil {
		return failure(err, classify(err), "requirements", hashes)
	}

	delta := &run.Delta{Pinned: &run.PinnedDelta{
		ProblemStatement:   prop.ProblemStatement,
		AcceptanceCriteria: prop.AcceptanceCriteria,
		Constraints:        prop.Constraints,
		DefinitionOfDone:   prop.DefinitionOfDone,
	}}
	return e.checkSchema(snap, run.StatePinRequirements, delta, hashes)
}

func (e *Engine) fetchSources(ctx context.Context, snap *run.Snapshot) *outcome {
	refs, err := e.conn.Search(ctx, snap.Pinned.ProblemStatement)
	if err != nil {
		return failure(err, classify(err), "search", nil)
	}

	seen := map[string]bool{}
	for _, s := range snap.Working.Sources {
		seen[s.Ref] = true
	}
	perType := map[string]int{}
	for _, s := range snap.Working.Sources {
		perType[s.Type]++
	}

	var picked []connector.Reference
	for _, ref := range refs {
		if seen[ref.ID] || perType[ref.Type] >= snap.Governance.Budgets.MaxSourcesPerType {
			continue
		}
		perType[ref.Type]++
		picked = append(picked, ref)
	}

	bodies, hashes, err := e.fetchAll(ctx, picked)
	if err != nil {
		return failure(err, classify(err), fetchContext(err, picked), hashes)
	}

	nextID := len(snap.Working.Sources)
	var added []run.Source
	for i, ref := range picked {
		src := run.Source{
			SourceID: fmt.Sprintf("S%d", nextID+i+1),
			Type:     ref.Type,
			Ref:      ref.ID,
			Title:    ref.Hint,
		}
		added = append(added, src)
		e.cacheBody(snap.RunID, src.SourceID, bodies[i])
	}

	delta := &run.Delta{Working: &run.WorkingDelta{AddSources: added}}
	return e.checkSchema(snap, run.StateFetchSources, delta, hashes)
}

// fetchAll retrieves references concurrently and waits for all of them.
// The first failure in reference order wins so retries see a stable error.
func (e *Engine) fetchAll(ctx context.Context, refs []connector.Reference) ([]string, []string, error) {
	bodies := make([]string, len(refs))
	hashes := make([]string, len(refs))
	errs := make([]error, len(refs))

	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref connector.Reference) {
			defer wg.Done()
			res, err := e.conn.Fetch(ctx, ref)
			if err != nil {
				errs[i] = fmt.Errorf("fetch %s %s: %w", ref.Type, ref.ID, err)
				return
			}
			bodies[i] = res.Content
			hashes[i] = toolCallHash("fetch:"+ref.Type, []byte(ref.ID), []byte(res.Content))
		}(i, ref)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, compactHashes(hashes), err
		}
	}
	return bodies, hashes, nil
}

func compactHashes(hashes []string) []string {
	var out []string
	for _, h := range hashes {
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func fetchContext(err error, refs []connector.Reference) string {
	for _, ref := range refs {
		if strings.Contains(err.Error(), ref.Type+" "+ref.ID) {
			return ref.Type
		}
	}
	return "fetch"
}

func (e *Engine) cacheBody(runID, sourceID, body string) {
	e.bodiesMu.Lock()
	defer e.bodiesMu.Unlock()
	if e.bodies[runID] == nil {
		e.bodies[runID] = map[string]string{}
	}
	e.bodies[runID][sourceID] = body
}

func (e *Engine) cachedBody(runID, sourceID string) (string, bool) {
	e.bodiesMu.Lock()
	defer e.bodiesMu.Unlock()
	body, ok := e.bodies[runID][sourceID]
	return body, ok
}

func (e *Engine) dropBodies(runID string) {
	e.bodiesMu.Lock()
	defer e.bodiesMu.Unlock()
	delete(e.bodies, runID)
}

func (e *Engine) buildEvidenceIndex(ctx context.Context, snap *run.Snapshot) *outcome {
	indexed := map[string]bool{}
	for _, ev := range snap.Working.Evidence {
		indexed[ev.SourceID] = true
	}

	nextID := len(snap.Working.Evidence)
	var added []run.EvidenceObject
	var hashes []string
	for _, src := range snap.Working.Sources {
		if indexed[src.SourceID] {
			continue
		}
		body, ok := e.cachedBody(snap.RunID, src.SourceID)
		if !ok {
			// Resumed process: the transient body cache is gone, re-fetch.
			res, err := e.conn.Fetch(ctx, connector.Reference{Type: src.Type, ID: src.Ref})
			if err != nil {
				return failure(fmt.Errorf("refetch %s %s: %w", src.Type, src.Ref, err), classify(err), src.Type, hashes)
			}
			body = res.Content
			hashes = append(hashes, toolCallHash("fetch:"+src.Type, []byte(src.Ref), []byte(body)))
			e.cacheBody(snap.RunID, src.SourceID, body)
		}
		objs := e.compiler.Chunk(src, body, nextID)
		nextID += len(objs)
		added = append(added, objs...)
	}

	delta := &run.Delta{Working: &run.WorkingDelta{AddEvidence: added}}
	return e.checkSchema(snap, run.StateBuildEvidenceIndex, delta, hashes)
}

// compress merges the current evidence set back under budget. Provenance
// survives via Subsumes; the superseded objects stay in the log.
func (e *Engine) compress(snap *run.Snapshot) *outcome {
	merged, changed := evidence.Compress(snap.CurrentEvidence(), snap.Governance.Budgets, len(snap.Working.Evidence))
	if !changed {
		// Already in budget: compression is a no-op.
		return success(nil, run.ValidationResult{Gate: "budget", OK: true}, nil)
	}

	delta := &run.Delta{Working: &run.WorkingDelta{AddEvidence: merged}}
	preview, err := snap.Preview(run.Event{
		Seq: snap.Seq + 1, RunID: snap.RunID, State: run.StateCompression,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "budget", OK: true},
		Delta:      delta,
	})
	if err != nil {
		return failure(err, govern.KindSchemaViolation, "compression", nil)
	}
	if v := evidence.CheckBudget(preview.CurrentEvidence(), snap.Governance.Budgets); v != nil {
		return failure(fmt.Errorf("compression left the set over budget: %s", v),
			govern.KindBudgetExceeded, v.Budget, nil)
	}
	return success(delta, run.ValidationResult{Gate: "budget", OK: true}, nil)
}

// entitiesProposal is the model response shape for entity extraction.
type entitiesProposal struct {
	Entities []run.Entity `json:"entities"`
}

func (e *Engine) extractEntities(ctx context.Context, snap *run.Snapshot) *outcome {
	var prop entitiesProposal
	hashes, err := e.propose(ctx, connector.Schema{Name: "entities", Version: "v1"},
		map[string]any{"evidence": snap.CurrentEvidence()}, &prop)
	if err != nil {
		return failure(err, classify(err), "entities", hashes)
	}

	delta := &run.Delta{Working: &run.WorkingDelta{SetEntities: prop.Entities}}
	return e.checkSchema(snap, run.StateExtractEntities, delta, hashes)
}

// planProposal is the model response shape for plan generation.
type planProposal struct {
	Plan         []run.PlanStep `json:"plan"`
	Assumptions  []string       `json:"assumptions"`
	OpenUnknowns []string       `json:"open_unknowns"`
}

func (e *Engine) generatePlan(ctx context.Context, snap *run.Snapshot) *outcome {
	var prop planProposal
	hashes, err := e.propose(ctx, connector.Schema{Name: "plan", Version: "v1"}, map[string]any{
		"problem_statement":   snap.Pinned.ProblemStatement,
		"acceptance_criteria": snap.Pinned.AcceptanceCriteria,
		"constraints":         snap.Pinned.Constraints,
		"definition_of_done":  snap.Pinned.DefinitionOfDone,
		"entities":            snap.Working.Entities,
		"evidence":            snap.CurrentEvidence(),
	}, &prop)
	if err != nil {
		return failure(err, classify(err), "plan", hashes)
	}

	delta := &run.Delta{Working: &run.WorkingDelta{
		SetPlan:         prop.Plan,
		AddAssumptions:  prop.Assumptions,
		AddOpenUnknowns: prop.OpenUnknowns,
	}}
	return e.checkSchema(snap, run.StateGeneratePlan, delta, hashes)
}

// groundingValidate is a pure validation state: no collaborator, no delta.
func (e *Engine) groundingValidate(snap *run.Snapshot) *outcome {
	res := gates.Grounding(snap)
	if !res.OK {
		out := failure(fmt.Errorf("grounding gate: %s", firstViolation(res)),
			govern.KindGrounding, groundingContext(res), nil)
		out.validation = res
		// Retire the refuted plan so the run redrafts it after the next
		// search round. The event log keeps the plan for audit.
		out.delta = &run.Delta{Working: &run.WorkingDelta{ClearPlan: true}}
		return out
	}
	return success(nil, res, nil)
}

// groundingContext folds the offending citations into the signature context
// so the same uncited claim failing twice produces the same signature.
func groundingContext(res run.ValidationResult) string {
	fields := map[string]bool{}
	for _, v := range res.Violations {
		fields[v.Field] = true
	}
	list := make([]string, 0, len(fields))
	for f := range fields {
		list = append(list, f)
	}
	sort.Strings(list)
	return strings.Join(list, ",")
}

func (e *Engine) verifyCoverage(snap *run.Snapshot) *outcome {
	entries := gates.BuildCoverage(snap)
	delta := &run.Delta{Working: &run.WorkingDelta{SetCoverage: entries}}

	preview, err := snap.Preview(run.Event{
		Seq: snap.Seq + 1, RunID: snap.RunID, State: run.StateVerifyCoverage,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "coverage", OK: true},
		Delta:      delta,
	})
	if err != nil {
		return failure(err, govern.KindSchemaViolation, "coverage", nil)
	}

	if res := gates.Schema(run.StateVerifyCoverage, preview); !res.OK {
		out := failure(fmt.Errorf("schema gate: %s", firstViolation(res)), govern.KindSchemaViolation, "coverage", nil)
		out.validation = res
		return out
	}

	res := gates.Coverage(preview)
	if !res.OK {
		out := failure(fmt.Errorf("coverage gate: %s", firstViolation(res)), govern.KindCoverageGap,
			strings.Join(unsatisfiedCriteria(entries), ","), nil)
		out.validation = res
		out.delta = delta // keep the matrix: reports need the gaps
		out.gapRatio = gates.GapRatio(entries)
		return out
	}
	return success(delta, res, nil)
}

func unsatisfiedCriteria(entries []run.CoverageEntry) []string {
	var out []string
	for i, e := range entries {
		if !e.Satisfied() {
			out = append(out, fmt.Sprintf("AC%d", i+1))
		}
	}
	return out
}

func (e *Engine) qualityReview(snap *run.Snapshot) *outcome {
	score, res := e.rubric.Gate(snap)
	delta := &run.Delta{Working: &run.WorkingDelta{SetScores: &score}}
	if !res.OK {
		out := failure(fmt.Errorf("quality gate: %s", firstViolation(res)),
			govern.KindLowQuality, fmt.Sprintf("%.4f", score.Weighted), nil)
		out.validation = res
		out.delta = delta // keep the scores: the interrupt report cites them
		return out
	}
	return success(delta, res, nil)
}

// post delivers the resolution artifact. Success terminates the run as
// POSTED; a write-back failure goes through the normal retry policy.
func (e *Engine) post(ctx context.Context, snap *run.Snapshot) (*StepResult, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	artifact := connector.Artifact{
		RunID:    snap.RunID,
		Summary:  snap.Pinned.ProblemStatement,
		Plan:     snap.Working.Plan,
		Coverage: snap.Working.Coverage,
	}
	receipt, err := e.writeback.Post(actx, snap.RunID, artifact)
	if err != nil {
		return e.commitFailure(ctx, snap, run.StatePostResult, failure(err, classify(err), "writeback", nil))
	}

	rep := report.Success(snap, receipt)
	next, err := e.store.Append(ctx, run.Event{
		Seq:        snap.Seq + 1,
		RunID:      snap.RunID,
		State:      run.StatePostResult,
		Timestamp:  e.clock(),
		Validation: run.ValidationResult{Gate: "post", OK: true},
		Delta:      &run.Delta{Working: &run.WorkingDelta{Receipt: receipt, Report: rep}},
	})
	if err != nil {
		return nil, err
	}
	e.dropBodies(snap.RunID)
	e.logf("run %s posted as %s", snap.RunID, receipt.PostedID)
	return &StepResult{
		RunID: snap.RunID, State: run.StatePostResult, OK: true, Next: run.StatePostResult,
		Status: next.Status, Seq: next.Seq, Terminal: true, Message: rep.Summary,
	}, nil
}
