// Package consensus turns independent oracle attestations into a single
// resolved outcome. The tally is a pure majority count: no weighting, no
// tie-break — the threshold is strictly more than half of the registered
// oracle set, so ties cannot occur.
package consensus

import "github.com/outcomelab/predmarket/internal/domain"

// Threshold returns the number of agreeing attestations required for
// consensus given the registered oracle count: a strict majority
// (total/2 + 1). Five oracles need three agreeing attestations.
func Threshold(totalOracles int) int {
	if totalOracles <= 0 {
		return 1
	}
	return totalOracles/2 + 1
}

// Tally is the per-outcome attestation count for one market.
type Tally struct {
	Yes   int
	No    int
	Total int
}

// Count tallies the given attestations.
func Count(atts []domain.Attestation) Tally {
	var t Tally
	for _, a := range atts {
		switch a.Outcome {
		case domain.OutcomeYes:
			t.Yes++
		case domain.OutcomeNo:
			t.No++
		default:
			continue
		}
		t.Total++
	}
	return t
}

// Winner returns the outcome whose count has reached the threshold, or
// ok = false while no side has.
func (t Tally) Winner(threshold int) (outcome domain.Outcome, ok bool) {
	switch {
	case t.Yes >= threshold:
		return domain.OutcomeYes, true
	case t.No >= threshold:
		return domain.OutcomeNo, true
	default:
		return 0, false
	}
}
