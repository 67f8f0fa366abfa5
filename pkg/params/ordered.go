// Package params assembles the insertion-ordered, multi-valued parameter map
// that the executor binds positionally to SQL placeholders.
package params

import (
	"net/url"
	"strings"
)

// Ordered is a multi-valued string map that remembers the order in which
// keys first arrived. Key order is the bind order used by the executor.
type Ordered struct {
	keys   []string
	values map[string][]string
}

// New returns an empty map.
func New() *Ordered {
	return &Ordered{values: make(map[string][]string)}
}

// FromPairs builds a map from alternating key/value arguments. A trailing
// key without a value gets "".
func FromPairs(pairs ...string) *Ordered {
	o := New()
	for i := 0; i < len(pairs); i += 2 {
		value := ""
		if i+1 < len(pairs) {
			value = pairs[i+1]
		}
		o.Add(pairs[i], value)
	}
	return o
}

// Add appends value to key, registering key at the end of the order when it
// is new.
func (o *Ordered) Add(key, value string) {
	if o.values == nil {
		o.values = make(map[string][]string)
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = append(o.values[key], value)
}

// Keys returns the keys in arrival order.
func (o *Ordered) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Get returns every value received for key.
func (o *Ordered) Get(key string) []string {
	if o == nil {
		return nil
	}
	return o.values[key]
}

// First returns the first value received for key.
func (o *Ordered) First(key string) (string, bool) {
	if o == nil {
		return "", false
	}
	values := o.values[key]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Len returns the number of distinct keys.
func (o *Ordered) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Merge appends every key and value of other, keeping other's order.
func (o *Ordered) Merge(other *Ordered) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		for _, value := range other.values[key] {
			o.Add(key, value)
		}
	}
}

// Encode renders the map as an URL-encoded string in key order. Repeated
// values are written as repeated keys.
func (o *Ordered) Encode() string {
	if o == nil {
		return ""
	}
	var b strings.Builder
	for _, key := range o.keys {
		for _, value := range o.values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}
