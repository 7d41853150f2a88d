package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Datapoint maps one group address to the DPT its payloads use.
type Datapoint struct {
	Address knx.GroupAddress `json:"address"`
	DPT     dpt.ID           `json:"dpt"`
	Name    string           `json:"name,omitempty"`
}

// Decode decodes payload according to the datapoint's family.
func (d Datapoint) Decode(payload []byte) (dpt.Value, error) {
	return dpt.Decode(d.DPT.Family(), payload)
}

// Registry is the group address to DPT table. The access layer itself is
// type-agnostic; everything that needs to interpret payloads looks them
// up here.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	points map[knx.GroupAddress]Datapoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{points: make(map[knx.GroupAddress]Datapoint)}
}

// LoadRegistry builds a registry from the configured datapoint list.
func LoadRegistry(cfgs []config.DatapointConfig) (*Registry, error) {
	r := NewRegistry()
	for i, c := range cfgs {
		ga, err := knx.ParseGroupAddress(c.Address)
		if err != nil {
			return nil, fmt.Errorf("datapoints[%d]: %w", i, err)
		}
		id, err := dpt.ParseID(c.DPT)
		if err != nil {
			return nil, fmt.Errorf("datapoints[%d]: %w", i, err)
		}
		if err := r.Add(Datapoint{Address: ga, DPT: id, Name: c.Name}); err != nil {
			return nil, fmt.Errorf("datapoints[%d]: %w", i, err)
		}
	}
	return r, nil
}

// Add registers a new datapoint. Mapping an address twice is an error.
func (r *Registry) Add(d Datapoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.points[d.Address]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDatapoint, d.Address)
	}
	r.points[d.Address] = d
	return nil
}

// Set registers or replaces the datapoint for d.Address.
func (r *Registry) Set(d Datapoint) {
	r.mu.Lock()
	r.points[d.Address] = d
	r.mu.Unlock()
}

// Remove deletes the mapping for ga. It reports whether one existed.
func (r *Registry) Remove(ga knx.GroupAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.points[ga]
	delete(r.points, ga)
	return ok
}

// Lookup returns the datapoint mapped to ga.
func (r *Registry) Lookup(ga knx.GroupAddress) (Datapoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.points[ga]
	return d, ok
}

// All returns every datapoint ordered by group address.
func (r *Registry) All() []Datapoint {
	r.mu.RLock()
	out := make([]Datapoint, 0, len(r.points))
	for _, d := range r.points {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of mapped addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}

// Resolve picks the family for ga: an explicit DPT string wins over the
// registry entry.
func (r *Registry) Resolve(ga knx.GroupAddress, explicit string) (dpt.ID, error) {
	if explicit != "" {
		return dpt.ParseID(explicit)
	}
	if d, ok := r.Lookup(ga); ok {
		return d.DPT, nil
	}
	return dpt.ID{}, fmt.Errorf("%w: %s", ErrUnknownDatapoint, ga)
}

// Observe pairs a telegram with its datapoint and, for writes and
// responses, the decoded value.
func (r *Registry) Observe(t knx.GroupTelegram) Observation {
	o := Observation{Telegram: t}
	d, ok := r.Lookup(t.Address)
	if !ok {
		return o
	}
	o.Datapoint = &d
	if t.Kind == knx.KindRead {
		return o
	}
	v, err := d.Decode(t.Payload)
	if err != nil {
		o.DecodeErr = err
		return o
	}
	o.Value = v
	return o
}
