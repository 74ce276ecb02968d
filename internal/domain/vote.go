package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Verdict is an exit decision.
type Verdict string

const (
	VerdictHold        Verdict = "hold"
	VerdictExitPartial Verdict = "exit_partial"
	VerdictExitFull    Verdict = "exit_full"
)

// Verdicts lists every verdict from most to least cautious.
var Verdicts = []Verdict{VerdictHold, VerdictExitPartial, VerdictExitFull}

// Severity orders verdicts: hold < exit_partial < exit_full.
func (v Verdict) Severity() int {
	switch v {
	case VerdictExitPartial:
		return 1
	case VerdictExitFull:
		return 2
	default:
		return 0
	}
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictHold || v == VerdictExitPartial || v == VerdictExitFull
}

// ParseVerdict converts a string into a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown verdict %q", s)
	}
	return v, nil
}

// Vote is one persona's opinion on a position.
type Vote struct {
	PersonaID  string          `json:"persona_id"`
	Decision   Verdict         `json:"decision"`
	Confidence decimal.Decimal `json:"confidence"`
	Rationale  string          `json:"rationale"`
	InputsHash string          `json:"inputs_hash"`
}

// Recommendation is the aggregated panel verdict for one position in one poll.
type Recommendation struct {
	PositionID          string          `json:"position_id"`
	Symbol              string          `json:"symbol"`
	PollSeq             uint64          `json:"poll_seq"`
	Verdict             Verdict         `json:"verdict"`
	AggregateConfidence decimal.Decimal `json:"aggregate_confidence"`
	DissentCount        int             `json:"dissent_count"`
	Votes               []Vote          `json:"votes"`
}

// Vote returns the vote cast by persona id, if any.
func (r Recommendation) Vote(personaID string) (Vote, bool) {
	for _, v := range r.Votes {
		if v.PersonaID == personaID {
			return v, true
		}
	}
	return Vote{}, false
}
