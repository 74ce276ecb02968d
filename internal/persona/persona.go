package persona

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/fib"
	"github.com/rovshanmuradov/position-monitor/internal/metrics"
)

// ID names a persona.
type ID string

const (
	Strategic  ID = "strategic"
	Aggressive ID = "aggressive"
	Newbie     ID = "newbie"
	Scalper    ID = "scalper"
	Patient    ID = "patient"
)

// Order is the canonical evaluation order.
var Order = []ID{Strategic, Aggressive, Newbie, Scalper, Patient}

// DegradedRationale is the rationale of a vote replaced after a persona error.
const DegradedRationale = "degraded"

// Context is the cross-poll state a persona may consult.
type Context struct {
	PollSeq uint64
	Prior   *domain.Snapshot
	// PriorPnLSign is the sign of the latest non-zero PnL before this poll.
	PriorPnLSign int
	High         decimal.Decimal
	Low          decimal.Decimal
}

// Input is everything a persona sees for one position in one poll.
type Input struct {
	Position domain.Position
	Snapshot domain.Snapshot
	Levels   fib.Levels
	Mark     decimal.Decimal
	Context  Context
}

// Func is the persona contract: a pure function of its input.
type Func func(Input) (domain.Vote, error)

// Registry maps persona ids to their functions.
type Registry map[ID]Func

// DefaultRegistry returns the five canonical personas.
func DefaultRegistry() Registry {
	return Registry{
		Strategic:  StrategicVote,
		Aggressive: AggressiveVote,
		Newbie:     NewbieVote,
		Scalper:    ScalperVote,
		Patient:    PatientVote,
	}
}

// Panel evaluates a fixed set of personas in order.
type Panel struct {
	registry Registry
	order    []ID
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewPanel creates a panel. Every id in order must be registered.
func NewPanel(registry Registry, order []ID, logger *zap.Logger, m *metrics.Collector) (*Panel, error) {
	for _, id := range order {
		if _, ok := registry[id]; !ok {
			return nil, fmt.Errorf("persona %q is not registered", id)
		}
	}
	return &Panel{
		registry: registry,
		order:    append([]ID(nil), order...),
		logger:   logger.Named("persona"),
		metrics:  m,
	}, nil
}

// IDs returns the evaluation order.
func (p *Panel) IDs() []ID {
	return append([]ID(nil), p.order...)
}

// Evaluate runs every persona on in. A failing persona contributes a
// degraded hold. Cancellation is checked before each persona.
func (p *Panel) Evaluate(ctx context.Context, in Input) ([]domain.Vote, error) {
	votes := make([]domain.Vote, 0, len(p.order))
	for _, id := range p.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vote, err := p.registry[id](in)
		if err != nil {
			p.logger.Warn("Persona degraded",
				zap.String("persona", string(id)),
				zap.String("position_id", in.Position.ID),
				zap.Uint64("poll_seq", in.Context.PollSeq),
				zap.Error(err))
			p.metrics.IncPersonaDegraded(string(id))
			vote = degraded(id, in)
		}
		vote.PersonaID = string(id)
		votes = append(votes, vote)
	}
	return votes, nil
}

func degraded(id ID, in Input) domain.Vote {
	return domain.Vote{
		PersonaID:  string(id),
		Decision:   domain.VerdictHold,
		Confidence: decimal.Zero,
		Rationale:  DegradedRationale,
		InputsHash: inputsHash(id, "position", in.Position.ID, "poll", strconv.FormatUint(in.Context.PollSeq, 10)),
	}
}

// inputsHash digests alternating key/value pairs into a stable hex string.
func inputsHash(id ID, kv ...string) string {
	var b strings.Builder
	b.WriteString("persona=")
	b.WriteString(string(id))
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteByte('|')
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(kv[i+1])
	}
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

func newVote(id ID, decision domain.Verdict, confidence decimal.Decimal, rationale, hash string) domain.Vote {
	return domain.Vote{
		PersonaID:  string(id),
		Decision:   decision,
		Confidence: clamp01(confidence).Round(fib.Precision),
		Rationale:  rationale,
		InputsHash: hash,
	}
}

func checkInput(in Input) error {
	if !in.Position.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", domain.ErrInconsistentInput, in.Position.Quantity)
	}
	if !in.Position.EntryPrice.IsPositive() || !in.Mark.IsPositive() {
		return fmt.Errorf("%w: entry %s mark %s", domain.ErrInconsistentInput, in.Position.EntryPrice, in.Mark)
	}
	if !in.Position.Side.Valid() {
		return fmt.Errorf("%w: side %q", domain.ErrInconsistentInput, in.Position.Side)
	}
	if !in.Position.PnLSignConsistent() {
		return fmt.Errorf("%w: %s pnl %s with entry %s mark %s", domain.ErrInconsistentInput,
			in.Position.Side, in.Position.UnrealizedPnL, in.Position.EntryPrice, in.Position.MarkPrice)
	}
	return nil
}

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
)

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}

func fmtDec(d decimal.Decimal) string {
	return d.Round(fib.Precision).String()
}
