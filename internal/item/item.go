// Package item defines the ordered record that flows through the relay
// pipeline and the reserved control fields it may carry.
package item

import (
	"encoding/json"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Reserved control fields. Every key starting with ControlPrefix is stripped
// from delivery payloads.
const (
	ControlPrefix = "_"

	FieldID         = "_id"
	FieldDate       = "_dt"
	FieldDateFormat = "_dt_format"
	FieldDelivered  = "_delivered"
	FieldValidation = "_validation"
)

// Item is an ordered mapping from field name to a JSON-compatible value. The
// zero value is not usable; construct with New, FromMap or by unmarshalling.
type Item struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty Item.
func New() *Item {
	return &Item{fields: orderedmap.New[string, any]()}
}

// FromMap builds an Item from m. Keys are inserted in sorted order because Go
// maps carry none; use FromPairs or UnmarshalJSON when order matters.
func FromMap(m map[string]any) *Item {
	it := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		it.Set(k, m[k])
	}
	return it
}

// FromPairs builds an Item from alternating key/value arguments.
func FromPairs(kv ...any) (*Item, error) {
	if len(kv)%2 != 0 {
		return nil, errors.Newf("odd number of key/value arguments: %d", len(kv))
	}
	it := New()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, errors.Newf("key at position %d is %T, want string", i, kv[i])
		}
		it.Set(key, kv[i+1])
	}
	return it, nil
}

// Get returns the value stored under key.
func (it *Item) Get(key string) (any, bool) {
	return it.fields.Get(key)
}

// GetString returns the value under key when it is a string.
func (it *Item) GetString(key string) (string, bool) {
	v, ok := it.fields.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether key is present.
func (it *Item) Has(key string) bool {
	_, ok := it.fields.Get(key)
	return ok
}

// Set stores value under key. Existing keys keep their position.
func (it *Item) Set(key string, value any) {
	it.fields.Set(key, value)
}

// Delete removes key and returns the previous value.
func (it *Item) Delete(key string) (any, bool) {
	return it.fields.Delete(key)
}

// Pop removes key and returns its value when it is a string. Non-string values
// are removed and reported as absent.
func (it *Item) Pop(key string) (string, bool) {
	v, ok := it.fields.Delete(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Len returns the number of fields.
func (it *Item) Len() int {
	return it.fields.Len()
}

// Keys returns the field names in insertion order.
func (it *Item) Keys() []string {
	keys := make([]string, 0, it.fields.Len())
	for pair := it.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Range calls fn for every field in order until fn returns false.
func (it *Item) Range(fn func(key string, value any) bool) {
	for pair := it.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Clone returns a shallow copy. Nested maps and slices are shared.
func (it *Item) Clone() *Item {
	out := New()
	it.Range(func(k string, v any) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// ID returns the identity key when present and non-empty.
func (it *Item) ID() (string, bool) {
	id, ok := it.GetString(FieldID)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Delivered reports whether the item was marked delivered.
func (it *Item) Delivered() bool {
	v, ok := it.fields.Get(FieldDelivered)
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Payload returns a copy without control fields and without any key matching
// exclude, compared case-insensitively.
func (it *Item) Payload(exclude ...string) *Item {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[strings.ToLower(name)] = struct{}{}
	}
	out := New()
	it.Range(func(k string, v any) bool {
		if strings.HasPrefix(k, ControlPrefix) {
			return true
		}
		if _, ok := skip[strings.ToLower(k)]; ok {
			return true
		}
		out.Set(k, v)
		return true
	})
	return out
}

// ToMap returns the fields as a plain map.
func (it *Item) ToMap() map[string]any {
	out := make(map[string]any, it.fields.Len())
	it.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (it *Item) MarshalJSON() ([]byte, error) {
	data, err := it.fields.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "marshal item")
	}
	return data, nil
}

// UnmarshalJSON decodes a JSON object, keeping the field order of the input.
func (it *Item) UnmarshalJSON(data []byte) error {
	fields := orderedmap.New[string, any]()
	if err := fields.UnmarshalJSON(data); err != nil {
		return errors.Wrap(err, "unmarshal item")
	}
	it.fields = fields
	return nil
}

// Parse decodes a single JSON object into an Item.
func Parse(data []byte) (*Item, error) {
	it := New()
	if err := json.Unmarshal(data, it); err != nil {
		return nil, errors.Wrap(err, "parse item")
	}
	return it, nil
}
