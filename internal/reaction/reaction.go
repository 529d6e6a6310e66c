// File: internal/reaction/reaction.go
package reaction

import (
	"context"
	"strings"

	"github.com/xkilldash9x/threadweaver/internal/surface"
	"go.uber.org/zap"
)

// Kind is a reaction type.
type Kind string

const (
	Like  Kind = "like"
	Love  Kind = "love"
	Care  Kind = "care"
	Haha  Kind = "haha"
	Wow   Kind = "wow"
	Sad   Kind = "sad"
	Angry Kind = "angry"

	// Default is applied when a requested kind is not recognised.
	Default = Like
)

// Kinds lists every supported kind.
var Kinds = []Kind{Like, Love, Care, Haha, Wow, Sad, Angry}

// Resolve maps a requested name to a Kind. Unknown names resolve to Default
// with ok false.
func Resolve(name string) (kind Kind, ok bool) {
	want := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Kinds {
		if k == want {
			return k, true
		}
	}
	return Default, false
}

// State is the current reaction on a target: none, or exactly one kind.
type State struct {
	Active bool
	Kind   Kind
}

// None is the unreacted state.
func None() State { return State{} }

// Named is the state where kind is applied.
func Named(kind Kind) State { return State{Active: true, Kind: kind} }

func (s State) String() string {
	if !s.Active {
		return "none"
	}
	return string(s.Kind)
}

// Surface reads and changes reactions on a target. A nil target addresses the
// post itself.
type Surface interface {
	Current(ctx context.Context, target surface.Element) (State, error)
	Apply(ctx context.Context, target surface.Element, kind Kind) error
	Withdraw(ctx context.Context, target surface.Element, kind Kind) error
}

// Failure reasons.
const (
	ReasonUnreadable         = "reaction state unreadable"
	ReasonApplyFailed        = "reaction could not be applied"
	ReasonRemovalFailed      = "existing reaction could not be removed"
	ReasonRemovalUnconfirmed = "existing reaction still present after removal"
	ReasonUnconfirmed        = "reaction not confirmed"
)

// Result describes one Drive call.
type Result struct {
	Requested  string
	Applied    Kind
	Downgraded bool
	Before     State
	After      State
	// Steps lists the mutations performed, e.g. "withdraw:like", "apply:love".
	Steps     []string
	Succeeded bool
	// Reason is one of the Reason constants; Detail carries the underlying error.
	Reason string
	Detail string
}

// Machine drives a target from its current state to a requested kind.
type Machine struct {
	logger  *zap.Logger
	surface Surface
	settle  func(ctx context.Context) bool
}

// NewMachine creates a machine. settle, if non-nil, runs after each mutation
// before the state is read back.
func NewMachine(logger *zap.Logger, s Surface, settle func(ctx context.Context) bool) *Machine {
	if settle == nil {
		settle = func(context.Context) bool { return true }
	}
	return &Machine{logger: logger.Named("reaction"), surface: s, settle: settle}
}

// Drive applies requested to target. If the same kind is already applied it
// does nothing. A different kind is withdrawn first, and the new one is only
// applied once the withdrawal is confirmed.
func (m *Machine) Drive(ctx context.Context, target surface.Element, requested string) Result {
	kind, ok := Resolve(requested)
	res := Result{Requested: requested, Applied: kind, Downgraded: !ok}
	if !ok {
		m.logger.Warn("Unknown reaction requested; using default.",
			zap.String("requested", requested), zap.String("kind", string(kind)))
	}

	current, err := m.surface.Current(ctx, target)
	if err != nil {
		return m.fail(res, ReasonUnreadable, err)
	}
	res.Before = current

	if current == Named(kind) {
		res.After = current
		res.Succeeded = true
		m.logger.Debug("Reaction already applied.", zap.String("kind", string(kind)))
		return res
	}

	if current.Active {
		res.Steps = append(res.Steps, "withdraw:"+string(current.Kind))
		if err := m.surface.Withdraw(ctx, target, current.Kind); err != nil {
			return m.fail(res, ReasonRemovalFailed, err)
		}
		m.settle(ctx)
		after, err := m.surface.Current(ctx, target)
		if err != nil {
			return m.fail(res, ReasonUnreadable, err)
		}
		if after.Active {
			res.After = after
			return m.fail(res, ReasonRemovalUnconfirmed, nil)
		}
	}

	res.Steps = append(res.Steps, "apply:"+string(kind))
	if err := m.surface.Apply(ctx, target, kind); err != nil {
		return m.fail(res, ReasonApplyFailed, err)
	}
	m.settle(ctx)
	after, err := m.surface.Current(ctx, target)
	if err != nil {
		return m.fail(res, ReasonUnreadable, err)
	}
	res.After = after
	if after != Named(kind) {
		return m.fail(res, ReasonUnconfirmed, nil)
	}

	res.Succeeded = true
	m.logger.Info("Reaction applied.",
		zap.String("kind", string(kind)),
		zap.Stringer("before", res.Before),
		zap.Strings("steps", res.Steps))
	return res
}

func (m *Machine) fail(res Result, reason string, err error) Result {
	res.Succeeded = false
	res.Reason = reason
	if err != nil {
		res.Detail = err.Error()
	}
	m.logger.Warn("Reaction failed.",
		zap.String("kind", string(res.Applied)),
		zap.String("reason", res.Reason),
		zap.String("detail", res.Detail),
		zap.Strings("steps", res.Steps))
	return res
}
