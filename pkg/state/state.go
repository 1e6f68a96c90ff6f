package state

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/apipulse/pulsed/pkg/pulseerr"
	"github.com/apipulse/pulsed/pkg/scenario"
)

// State holds the mutable runtime data of one running service instance:
// fixtures, the data bucket, ad-hoc runtime values set by side effects, and
// per-endpoint response rotation counters. Everything here is volatile; a
// restart rebuilds it from the definition.
type State struct {
	mu       sync.RWMutex
	fixtures map[string]any
	initial  map[string]any
	runtime  map[string]any
	counters map[int]int
	bucket   *Bucket
	rng      *rand.Rand
}

// New builds a State seeded from the definition's fixtures and bucket blocks.
// The initial fixture set is deep-copied so ResetFixtures can restore it after
// any amount of mutation.
func New(fixtures, bucket map[string]any) *State {
	s := &State{
		fixtures: make(map[string]any, len(fixtures)),
		initial:  make(map[string]any, len(fixtures)),
		runtime:  make(map[string]any),
		counters: make(map[int]int),
		bucket:   NewBucket(bucket),
		rng:      rand.New(rand.NewSource(rand.Int63())),
	}
	for k, v := range fixtures {
		s.fixtures[k] = deepCopy(v)
		s.initial[k] = deepCopy(v)
	}
	return s
}

// Bucket returns the instance's shared key/value bucket.
func (s *State) Bucket() *Bucket { return s.bucket }

// Fixture returns the named fixture and whether it exists.
func (s *State) Fixture(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fixtures[name]
	return v, ok
}

// SetFixture replaces the named fixture wholesale.
func (s *State) SetFixture(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures[name] = value
}

// RemoveFixture deletes the named fixture, reporting whether it existed.
func (s *State) RemoveFixture(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fixtures[name]
	if ok {
		delete(s.fixtures, name)
	}
	return ok
}

// Fixtures returns a deep copy of the current fixture set, safe to hand to
// script contexts and template expansion without further locking.
func (s *State) Fixtures() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.fixtures))
	for k, v := range s.fixtures {
		out[k] = deepCopy(v)
	}
	return out
}

// ResetFixtures restores fixtures to the definition's initial snapshot.
// Bucket and runtime data are deliberately left alone; only fixtures are
// declared reloadable. Calling it twice in a row is a no-op.
func (s *State) ResetFixtures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fixtures = make(map[string]any, len(s.initial))
	for k, v := range s.initial {
		s.fixtures[k] = deepCopy(v)
	}
}

// RuntimeValue returns an ad-hoc runtime value set by a side effect.
func (s *State) RuntimeValue(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.runtime[key]
	return v, ok
}

// SetRuntimeValue stores an ad-hoc runtime value.
func (s *State) SetRuntimeValue(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime[key] = value
}

// RemoveRuntimeValue deletes a runtime value, reporting whether it existed.
func (s *State) RemoveRuntimeValue(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runtime[key]
	if ok {
		delete(s.runtime, key)
	}
	return ok
}

// RuntimeValues returns a shallow copy of all runtime values.
func (s *State) RuntimeValues() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.runtime))
	for k, v := range s.runtime {
		out[k] = v
	}
	return out
}

// NextResponseIndex selects which of an endpoint's rotating responses to
// serve. Sequential rotation keeps a per-endpoint counter and wraps modulo
// total; random draws uniformly with no memory of prior picks. total must be
// positive or the result is always 0.
func (s *State) NextResponseIndex(endpoint int, total int, strategy scenario.Strategy) int {
	if total <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if strategy == scenario.StrategyRandom {
		return s.rng.Intn(total)
	}
	idx := s.counters[endpoint] % total
	s.counters[endpoint]++
	return idx
}

// ResetCounters clears all response rotation counters.
func (s *State) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[int]int)
}

// AppendToArray appends item to the named array fixture, creating the fixture
// as a one-element array when it does not exist yet.
func (s *State) AppendToArray(name string, item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.fixtures[name]
	if !ok {
		s.fixtures[name] = []any{item}
		return nil
	}
	arr, ok := cur.([]any)
	if !ok {
		return notAnArray(name)
	}
	s.fixtures[name] = append(arr, item)
	return nil
}

// RemoveFromArrayIndex removes the element at index from the named array
// fixture.
func (s *State) RemoveFromArrayIndex(name string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr, err := s.arrayLocked(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(arr) {
		return outOfRange(name, index, len(arr))
	}
	s.fixtures[name] = append(arr[:index], arr[index+1:]...)
	return nil
}

// UpdateArrayIndex replaces the element at index in the named array fixture.
func (s *State) UpdateArrayIndex(name string, index int, item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr, err := s.arrayLocked(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(arr) {
		return outOfRange(name, index, len(arr))
	}
	arr[index] = item
	return nil
}

// UpdateArrayItemByField replaces the first element of the named array
// fixture whose field equals match. The element must be an object.
func (s *State) UpdateArrayItemByField(name, field string, match any, item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr, err := s.arrayLocked(name)
	if err != nil {
		return err
	}
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if valuesEqual(obj[field], match) {
			arr[i] = item
			return nil
		}
	}
	return noMatch(name, field, match)
}

// RemoveArrayItemByField removes the first element of the named array fixture
// whose field equals match.
func (s *State) RemoveArrayItemByField(name, field string, match any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr, err := s.arrayLocked(name)
	if err != nil {
		return err
	}
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if valuesEqual(obj[field], match) {
			s.fixtures[name] = append(arr[:i], arr[i+1:]...)
			return nil
		}
	}
	return noMatch(name, field, match)
}

func (s *State) arrayLocked(name string) ([]any, error) {
	cur, ok := s.fixtures[name]
	if !ok {
		return nil, pulseerr.Runtimef("fixture %q does not exist", name)
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, notAnArray(name)
	}
	return arr, nil
}

func notAnArray(name string) error {
	return pulseerr.Runtimef("fixture %q is not an array", name)
}

func outOfRange(name string, index, length int) error {
	return pulseerr.Runtimef("index %d out of range for fixture %q (length %d)", index, name, length)
}

func noMatch(name, field string, match any) error {
	return pulseerr.Runtimef("no item in fixture %q with %s == %v", name, field, match)
}

// valuesEqual compares loosely decoded JSON/YAML scalars. Numbers compare by
// value regardless of concrete type, so a YAML int matches a JSON float64.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// deepCopy duplicates loosely typed YAML/JSON data. Scalars are immutable and
// returned as-is; maps and slices are copied recursively.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = deepCopy(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = deepCopy(el)
		}
		return out
	default:
		return v
	}
}
