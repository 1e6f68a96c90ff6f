package script

import "github.com/apipulse/pulsed/pkg/pulseerr"

// Mutation is one state change requested by a script's side_effects list.
type Mutation struct {
	Action string
	Target string
	Value  any
	Field  string
	Match  any
	Index  int
}

// Result is a script's decoded return value.
type Result struct {
	Body      any
	Status    int
	Mutations []Mutation
}

// ParseResult interprets a script's return value. A map with a "response" key
// is the structured form: "response" becomes the body, an optional "status"
// overrides the HTTP status, and "side_effects" lists mutations. Any other
// value is the body as-is.
func ParseResult(v any) (*Result, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return &Result{Body: v}, nil
	}
	body, structured := m["response"]
	if !structured {
		return &Result{Body: v}, nil
	}

	res := &Result{Body: body}
	if raw, ok := m["status"]; ok {
		status, ok := asInt(raw)
		if !ok {
			return nil, pulseerr.Runtimef("script status must be an integer, got %T", raw)
		}
		res.Status = status
	}

	raw, ok := m["side_effects"]
	if !ok {
		return res, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, pulseerr.Runtimef("script side_effects must be a list, got %T", raw)
	}
	for i, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, pulseerr.Runtimef("side effect %d must be an object, got %T", i, el)
		}
		mut := Mutation{Index: -1}
		mut.Action, _ = obj["action"].(string)
		mut.Target, _ = obj["target"].(string)
		mut.Value = obj["value"]
		mut.Field, _ = obj["field"].(string)
		mut.Match = obj["match"]
		if raw, ok := obj["index"]; ok {
			if idx, ok := asInt(raw); ok {
				mut.Index = idx
			}
		}
		if mut.Action == "" {
			return nil, pulseerr.Runtimef("side effect %d is missing an action", i)
		}
		res.Mutations = append(res.Mutations, mut)
	}
	return res, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
