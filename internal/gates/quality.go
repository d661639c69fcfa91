package gates

import (
	"fmt"
	"math"
	"strings"

	"github.com/interlockhq/interlock/internal/run"
)

// Rubric scores a drafted plan on the configured review dimensions. All
// weights and the pass threshold come from operator configuration; the zero
// value is unusable on purpose.
type Rubric struct {
	Completeness   float64
	Clarity        float64
	RiskDisclosure float64
	Threshold      float64
}

// Score grades the candidate snapshot. Each dimension is a deterministic
// ratio over the plan and coverage matrix, so replays grade identically.
func (r Rubric) Score(snap *run.Snapshot) run.RubricScore {
	s := run.RubricScore{
		Completeness:   completeness(snap),
		Clarity:        clarity(snap),
		RiskDisclosure: riskDisclosure(snap),
	}
	s.Weighted = round4(r.Completeness*s.Completeness + r.Clarity*s.Clarity + r.RiskDisclosure*s.RiskDisclosure)
	return s
}

// Gate scores the snapshot and fails when the weighted score is below the
// configured threshold.
func (r Rubric) Gate(snap *run.Snapshot) (run.RubricScore, run.ValidationResult) {
	score := r.Score(snap)
	if score.Weighted < r.Threshold {
		return score, fail("quality", []run.Violation{{
			Field:   "scores.weighted",
			Code:    CodeLowQuality,
			Message: fmt.Sprintf("weighted score %.4f is below the threshold %.4f", score.Weighted, r.Threshold),
		}})
	}
	return score, ok("quality")
}

func completeness(snap *run.Snapshot) float64 {
	if len(snap.Working.Coverage) == 0 {
		return 0
	}
	satisfied := 0
	for _, e := range snap.Working.Coverage {
		if e.Satisfied() {
			satisfied++
		}
	}
	return round4(float64(satisfied) / float64(len(snap.Working.Coverage)))
}

func clarity(snap *run.Snapshot) float64 {
	if len(snap.Working.Plan) == 0 {
		return 0
	}
	clear := 0
	for _, step := range snap.Working.Plan {
		if strings.TrimSpace(step.Description) == "" {
			continue
		}
		if step.Kind == "implement" && len(step.FilesTouched) == 0 {
			continue
		}
		clear++
	}
	return round4(float64(clear) / float64(len(snap.Working.Plan)))
}

func riskDisclosure(snap *run.Snapshot) float64 {
	impl := 0
	disclosed := 0
	for _, step := range snap.Working.Plan {
		if step.Kind != "implement" {
			continue
		}
		impl++
		if strings.TrimSpace(step.RiskNotes) != "" || strings.TrimSpace(step.Assumption) != "" {
			disclosed++
		}
	}
	if impl == 0 {
		return 0
	}
	return round4(float64(disclosed) / float64(impl))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
