package router

import (
	"encoding/json"

	"github.com/apipulse/pulsed/pkg/definition"
	"github.com/apipulse/pulsed/pkg/pulseerr"
	"github.com/apipulse/pulsed/pkg/script"
	"github.com/apipulse/pulsed/pkg/state"
)

// applyDeclaredEffect executes one side effect declared on a response. The
// effect's value is template-rendered first, then parsed as JSON where a
// structured value makes sense.
func applyDeclaredEffect(st *state.State, eff definition.SideEffect, ctx templateContext) error {
	value := decodeEffectValue(render(string(eff.Value), ctx))

	switch eff.Action {
	case definition.ActionAddToFixture:
		return st.AppendToArray(eff.Target, value)

	case definition.ActionUpdateFixture:
		// A value of {field, match, item} updates one array element;
		// anything else replaces the fixture wholesale.
		if spec, ok := value.(map[string]any); ok {
			field, hasField := spec["field"].(string)
			_, hasMatch := spec["match"]
			if hasField && hasMatch {
				return st.UpdateArrayItemByField(eff.Target, field, spec["match"], spec["item"])
			}
		}
		st.SetFixture(eff.Target, value)
		return nil

	case definition.ActionRemoveFromFixture:
		if spec, ok := value.(map[string]any); ok {
			if field, ok := spec["field"].(string); ok {
				return st.RemoveArrayItemByField(eff.Target, field, spec["match"])
			}
			if idx, ok := spec["index"].(float64); ok {
				return st.RemoveFromArrayIndex(eff.Target, int(idx))
			}
		}
		if !st.RemoveFixture(eff.Target) {
			return pulseerr.Runtimef("fixture %q does not exist", eff.Target)
		}
		return nil

	case definition.ActionSetBucket:
		st.Bucket().Set(eff.Target, value)
		return nil

	case definition.ActionRemoveBucket:
		st.Bucket().Remove(eff.Target)
		return nil

	case definition.ActionSetRuntimeData:
		st.SetRuntimeValue(eff.Target, value)
		return nil

	case definition.ActionRemoveRuntimeData:
		st.RemoveRuntimeValue(eff.Target)
		return nil

	default:
		return pulseerr.Runtimef("unknown side effect action %q", eff.Action)
	}
}

// applyMutation executes one mutation returned by a script.
func applyMutation(st *state.State, m script.Mutation) error {
	switch definition.SideEffectAction(m.Action) {
	case definition.ActionAddToFixture:
		return st.AppendToArray(m.Target, m.Value)
	case definition.ActionUpdateFixture:
		if m.Field != "" {
			return st.UpdateArrayItemByField(m.Target, m.Field, m.Match, m.Value)
		}
		if m.Index >= 0 {
			return st.UpdateArrayIndex(m.Target, m.Index, m.Value)
		}
		st.SetFixture(m.Target, m.Value)
		return nil
	case definition.ActionRemoveFromFixture:
		if m.Field != "" {
			return st.RemoveArrayItemByField(m.Target, m.Field, m.Match)
		}
		if m.Index >= 0 {
			return st.RemoveFromArrayIndex(m.Target, m.Index)
		}
		if !st.RemoveFixture(m.Target) {
			return pulseerr.Runtimef("fixture %q does not exist", m.Target)
		}
		return nil
	case definition.ActionSetBucket:
		st.Bucket().Set(m.Target, m.Value)
		return nil
	case definition.ActionRemoveBucket:
		st.Bucket().Remove(m.Target)
		return nil
	case definition.ActionSetRuntimeData:
		st.SetRuntimeValue(m.Target, m.Value)
		return nil
	case definition.ActionRemoveRuntimeData:
		st.RemoveRuntimeValue(m.Target)
		return nil
	default:
		return pulseerr.Runtimef("unknown side effect action %q", m.Action)
	}
}

// decodeEffectValue turns a rendered value string into structured data when
// it parses as JSON, otherwise keeps the raw string.
func decodeEffectValue(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
