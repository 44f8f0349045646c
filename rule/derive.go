package rule

import (
	"time"

	"github.com/oselotti/capreplay/idgen"
	"github.com/oselotti/capreplay/trail"
)

// Derive compiles a chronologically sorted event trail into a minimal
// ordered step list:
//
//  1. structural events (navigate, click) in original order, with
//     adjacent duplicate clicks on the same target collapsed,
//  2. one input per target — the last, non-redacted, longest observed
//     value, because fields are edited incrementally and only the final
//     content matters for replay,
//  3. submits last — inputs must exist before submission regardless of
//     where the submit appeared in the raw order.
//
// Key and scroll events carry no replayable intent and are dropped.
func Derive(events []trail.Event) []Step {
	var structural []Step

	type inputObs struct {
		value string
		order int
	}
	inputs := make(map[string]inputObs)
	var inputOrder []string

	var submits []Step

	for _, ev := range events {
		switch ev.Kind {
		case trail.KindNavigate:
			structural = append(structural, Step{Kind: StepNavigate, URL: ev.URL})

		case trail.KindClick:
			step := Step{Kind: StepClick, Target: StableSelector(ev.Target)}
			if n := len(structural); n > 0 &&
				structural[n-1].Kind == StepClick &&
				structural[n-1].Target == step.Target {
				continue // adjacent duplicate click
			}
			structural = append(structural, step)

		case trail.KindInput:
			if ev.Redacted {
				continue
			}
			sel := StableSelector(ev.Target)
			obs, seen := inputs[sel]
			if !seen {
				inputs[sel] = inputObs{value: ev.Value, order: len(inputOrder)}
				inputOrder = append(inputOrder, sel)
				continue
			}
			// Last writer wins, but never trade a longer sample for a
			// shorter one: autofill or IME can emit a late truncated echo.
			if len(ev.Value) >= len(obs.value) {
				obs.value = ev.Value
				inputs[sel] = obs
			}

		case trail.KindSubmit:
			submits = append(submits, Step{Kind: StepSubmit, Target: StableSelector(ev.Target)})
		}
	}

	steps := structural
	for _, sel := range inputOrder {
		steps = append(steps, Step{Kind: StepInput, Target: sel, Value: inputs[sel].value})
	}
	steps = append(steps, submits...)
	return steps
}

// Compile derives a full Rule from a session.
func Compile(name string, sess *trail.Session) Rule {
	return Rule{
		ID:              idgen.Prefixed("rule_", idgen.Default)(),
		Name:            name,
		SourceSessionID: sess.ID,
		Steps:           Derive(sess.Events),
		CreatedAtMS:     time.Now().UnixMilli(),
	}
}
