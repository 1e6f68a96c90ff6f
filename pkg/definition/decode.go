package definition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Body is a response body that accepts either a scalar or a structured value
// in definition files. Structured values (mappings, sequences) are stored as
// their JSON encoding, so authors can write:
//
//	body: { id: 1, name: "Ada" }
//
// instead of quoting a JSON string.
type Body string

// String returns the stored body text.
func (b Body) String() string { return string(b) }

// IsEmpty reports whether the body is unset.
func (b Body) IsEmpty() bool { return b == "" }

// UnmarshalJSON accepts a string, object, array, number, boolean, or null.
func (b *Body) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*b = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = Body(s)
		return nil
	}
	// Object, array, number, or boolean: keep the raw JSON text.
	*b = Body(data)
	return nil
}

// MarshalJSON emits the body as a JSON string.
func (b Body) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(b))
}

// UnmarshalYAML accepts a scalar, mapping, or sequence node.
func (b *Body) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*b = Body(value.Value)
		return nil
	}

	var obj any
	if err := value.Decode(&obj); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode body as JSON: %w", err)
	}
	*b = Body(encoded)
	return nil
}

// ResponseMap maps HTTP status code to a response definition. Definition
// files key responses by integer status, which JSON delivers as strings;
// both decoders normalize to int keys.
type ResponseMap map[int]ResponseDefinition

// StatusCodes returns the declared statuses in ascending order.
func (m ResponseMap) StatusCodes() []int {
	codes := make([]int, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// UnmarshalJSON converts string status keys to ints.
func (m *ResponseMap) UnmarshalJSON(data []byte) error {
	var raw map[string]ResponseDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ResponseMap, len(raw))
	for key, def := range raw {
		code, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("response status %q is not an integer", key)
		}
		out[code] = def
	}
	*m = out
	return nil
}

// MarshalJSON emits string status keys, matching the file format.
func (m ResponseMap) MarshalJSON() ([]byte, error) {
	raw := make(map[string]ResponseDefinition, len(m))
	for code, def := range m {
		raw[strconv.Itoa(code)] = def
	}
	return json.Marshal(raw)
}

// UnmarshalYAML converts status keys (ints or quoted ints) to ints.
func (m *ResponseMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("responses: expected mapping, got YAML kind %d", value.Kind)
	}
	out := make(ResponseMap, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		code, err := strconv.Atoi(keyNode.Value)
		if err != nil {
			return fmt.Errorf("response status %q is not an integer", keyNode.Value)
		}
		var def ResponseDefinition
		if err := valNode.Decode(&def); err != nil {
			return fmt.Errorf("response %d: %w", code, err)
		}
		out[code] = def
	}
	*m = out
	return nil
}
