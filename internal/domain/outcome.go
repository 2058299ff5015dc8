package domain

import "fmt"

// Outcome is one of the two sides of a binary market. It is stored as a
// small integer (0 = NO, 1 = YES); the YES/NO labels appear only in
// user-facing text.
type Outcome int

const (
	OutcomeNo  Outcome = 0
	OutcomeYes Outcome = 1
)

// Valid reports whether o is one of the two legal outcome values.
func (o Outcome) Valid() bool {
	return o == OutcomeNo || o == OutcomeYes
}

// Label returns the display label for the outcome.
func (o Outcome) Label() string {
	if o == OutcomeYes {
		return "YES"
	}
	return "NO"
}

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}

// ParseOutcome converts a raw integer into an Outcome, returning
// ErrInvalidOutcome for anything outside {0, 1}.
func ParseOutcome(v int) (Outcome, error) {
	o := Outcome(v)
	if !o.Valid() {
		return 0, fmt.Errorf("outcome %d: %w", v, ErrInvalidOutcome)
	}
	return o, nil
}
