package policy

import (
	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// celInputs are the precomputed facts each compiled program evaluates over.
// Grant matching (does the subject, directly or via a group, hold a share
// grant, and at what role) is resolved in Go before the CEL program runs;
// the program itself only expresses the authorization logic, not the
// lookup, so it stays a pure boolean expression over named variables.
type celInputs struct {
	isOwner    bool
	hasGrant   bool
	grantRole  string // "viewer" | "editor" | "owner" | "" (no grant)
}

func (in celInputs) vars() map[string]any {
	return map[string]any{
		"is_owner":   in.isOwner,
		"has_grant":  in.hasGrant,
		"grant_role": in.grantRole,
	}
}

// matrix is the closed, compile-time enumerable set of (resourceKind,
// action) -> CEL expression. Every resource/action combination the cache
// will ever be asked to evaluate must have an entry; a missing entry is a
// programmer error that makes eval panic when the combination is evaluated, per
// spec's "illegal combinations are a programmer error (assertion), not a
// denial."
var matrix = map[ResourceKind]map[Action]string{
	ResourceChat: {
		ActionRead:  `is_owner || has_grant`,
		ActionWrite: `is_owner || (has_grant && (grant_role == "editor" || grant_role == "owner"))`,
	},
	ResourceAssistant: {
		ActionRead:  `is_owner || has_grant`,
		ActionWrite: `is_owner || (has_grant && (grant_role == "editor" || grant_role == "owner"))`,
	},
}

type programKey struct {
	kind   ResourceKind
	action Action
}

// programs is the compiled form of matrix, built once per Cache.
type programs map[programKey]cel.Program

func newPrograms() (programs, error) {
	env, err := cel.NewEnv(
		cel.Variable("is_owner", cel.BoolType),
		cel.Variable("has_grant", cel.BoolType),
		cel.Variable("grant_role", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	out := programs{}
	for kind, actions := range matrix {
		for action, expr := range actions {
			ast, issues := env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				return nil, errors.Wrapf(issues.Err(), "invalid policy expression for %s/%s", kind, action)
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to build policy program for %s/%s", kind, action)
			}
			out[programKey{kind, action}] = prg
		}
	}
	return out, nil
}

// eval runs the compiled program for (kind, action). A missing entry panics:
// the matrix is closed and every caller-reachable combination is listed
// above, so a miss here means a new ResourceKind or Action was added
// without a matching policy expression.
func (p programs) eval(kind ResourceKind, action Action, in celInputs) (bool, error) {
	prg, ok := p[programKey{kind, action}]
	if !ok {
		panic(errors.Errorf("policy: no program for resource kind %q action %q", kind, action))
	}
	out, _, err := prg.Eval(in.vars())
	if err != nil {
		return false, errors.Wrap(err, "failed to evaluate policy program")
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("policy program for %s/%s did not return a bool", kind, action)
	}
	return allowed, nil
}
