// Package expert holds the expert catalog: the registry of known experts and
// the ordered keyword table used to suggest one from free text.
package expert

import (
	"errors"
	"fmt"

	"github.com/sahilm/fuzzy"
)

// ErrUnknownExpert is returned when a key does not name a registered expert.
var ErrUnknownExpert = errors.New("unknown expert")

// Descriptor describes one expert persona. It is immutable after load.
type Descriptor struct {
	Key         string `json:"key"`
	BackendID   string `json:"backend_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Registry is an ordered, read-only set of experts.
type Registry struct {
	order []string
	byKey map[string]Descriptor
}

// NewRegistry builds a registry preserving the order of descriptors.
// Duplicate or empty keys are rejected.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	r := &Registry{
		order: make([]string, 0, len(descriptors)),
		byKey: make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.Key == "" {
			return nil, errors.New("expert key is empty")
		}
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("duplicate expert key %q", d.Key)
		}
		if d.BackendID == "" {
			d.BackendID = d.Key
		}
		r.order = append(r.order, d.Key)
		r.byKey[d.Key] = d
	}
	return r, nil
}

// Get returns the descriptor for key.
func (r *Registry) Get(key string) (Descriptor, error) {
	d, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownExpert, key)
	}
	return d, nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Keys returns the registered keys in catalog order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every descriptor in catalog order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// Len returns the number of registered experts.
func (r *Registry) Len() int { return len(r.order) }

// ByBackendID finds the expert bound to a backend assistant id.
func (r *Registry) ByBackendID(id string) (Descriptor, bool) {
	if id == "" {
		return Descriptor{}, false
	}
	for _, k := range r.order {
		if d := r.byKey[k]; d.BackendID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Find resolves a loosely typed name to an expert. An exact key wins;
// otherwise the best fuzzy match over keys and titles is returned.
func (r *Registry) Find(query string) (Descriptor, bool) {
	if d, ok := r.byKey[query]; ok {
		return d, true
	}
	if query == "" {
		return Descriptor{}, false
	}
	matches := fuzzy.FindFrom(query, registrySource{r})
	if len(matches) == 0 {
		return Descriptor{}, false
	}
	return r.byKey[r.order[matches[0].Index]], true
}

// registrySource adapts the registry to fuzzy.Source, matching on
// "key title" so either can be typed.
type registrySource struct{ r *Registry }

func (s registrySource) String(i int) string {
	d := s.r.byKey[s.r.order[i]]
	return d.Key + " " + d.Title
}

func (s registrySource) Len() int { return len(s.r.order) }
