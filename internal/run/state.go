package run

// State identifies a node in the fixed resolution FSM.
type State string

const (
	StateParseIntent        State = "PARSE_INTENT"
	StateValidateScope      State = "VALIDATE_SCOPE"
	StateFetchJira          State = "FETCH_JIRA"
	StatePinRequirements    State = "PIN_REQUIREMENTS"
	StateFetchSources       State = "FETCH_SOURCES"
	StateBuildEvidenceIndex State = "BUILD_EVIDENCE_INDEX"
	StateCompression        State = "COMPRESSION"
	StateExtractEntities    State = "EXTRACT_ENTITIES"
	StateGroundingValidate  State = "GROUNDING_VALIDATE"
	StateGeneratePlan       State = "GENERATE_PLAN"
	StateVerifyCoverage     State = "VERIFY_COVERAGE"
	StateQualityReview      State = "QUALITY_REVIEW"
	StatePostResult         State = "POST_RESULT"
	StateHumanInterrupt     State = "HUMAN_INTERRUPT"
	StateFailClosed         State = "FAIL_CLOSED"
)

// AllStates lists every state in pipeline order, terminals last.
var AllStates = []State{
	StateParseIntent,
	StateValidateScope,
	StateFetchJira,
	StatePinRequirements,
	StateFetchSources,
	StateBuildEvidenceIndex,
	StateCompression,
	StateExtractEntities,
	StateGeneratePlan,
	StateGroundingValidate,
	StateVerifyCoverage,
	StateQualityReview,
	StatePostResult,
	StateHumanInterrupt,
	StateFailClosed,
}

var validStates = func() map[State]bool {
	m := make(map[State]bool, len(AllStates))
	for _, s := range AllStates {
		m[s] = true
	}
	return m
}()

// Valid reports whether s belongs to the fixed state set.
func (s State) Valid() bool {
	return validStates[s]
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StatePostResult || s == StateHumanInterrupt || s == StateFailClosed
}

// Status is the terminal status of a run.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusPosted      Status = "POSTED"
	StatusInterrupted Status = "INTERRUPTED"
	StatusFailClosed  Status = "FAILED_CLOSED"
)

// TerminalStatus maps a terminal state to the run status it produces.
func TerminalStatus(s State) Status {
	switch s {
	case StatePostResult:
		return StatusPosted
	case StateHumanInterrupt:
		return StatusInterrupted
	case StateFailClosed:
		return StatusFailClosed
	default:
		return StatusActive
	}
}
