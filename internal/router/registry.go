package router

import (
	"fmt"
	"sort"

	"carebase/internal/eventstore"
)

// Registry maps each stream type to exactly one projector. It is built once
// at startup and read-only afterwards.
type Registry struct {
	byStream   map[eventstore.StreamType]Projector
	projectors []Projector
}

// NewRegistry validates the projector set: names and stream types must be
// non-empty and unique, and every declared event type must be well formed.
func NewRegistry(projectors ...Projector) (*Registry, error) {
	r := &Registry{byStream: make(map[eventstore.StreamType]Projector)}
	names := make(map[string]struct{}, len(projectors))
	for i, p := range projectors {
		if p == nil {
			return nil, fmt.Errorf("projector %d is nil", i)
		}
		name := p.Name()
		if name == "" {
			return nil, fmt.Errorf("projector %d has no name", i)
		}
		if _, dup := names[name]; dup {
			return nil, fmt.Errorf("duplicate projector name %q", name)
		}
		names[name] = struct{}{}

		streams := p.StreamTypes()
		if len(streams) == 0 {
			return nil, fmt.Errorf("projector %q declares no stream types", name)
		}
		for _, st := range streams {
			if !eventstore.ValidStreamType(st) {
				return nil, fmt.Errorf("projector %q: invalid stream type %q", name, st)
			}
			if owner, taken := r.byStream[st]; taken {
				return nil, fmt.Errorf("stream type %q registered by both %q and %q", st, owner.Name(), name)
			}
			r.byStream[st] = p
		}

		events := p.EventTypes()
		if len(events) == 0 {
			return nil, fmt.Errorf("projector %q declares no event types", name)
		}
		seen := make(map[eventstore.EventType]struct{}, len(events))
		for _, et := range events {
			if !eventstore.ValidEventType(et) {
				return nil, fmt.Errorf("projector %q: invalid event type %q", name, et)
			}
			if _, dup := seen[et]; dup {
				return nil, fmt.Errorf("projector %q: duplicate event type %q", name, et)
			}
			seen[et] = struct{}{}
		}
		r.projectors = append(r.projectors, p)
	}
	return r, nil
}

// Lookup returns the projector owning streamType.
func (r *Registry) Lookup(streamType eventstore.StreamType) (Projector, bool) {
	p, ok := r.byStream[streamType]
	return p, ok
}

// StreamTypes lists registered stream types in sorted order.
func (r *Registry) StreamTypes() []eventstore.StreamType {
	out := make([]eventstore.StreamType, 0, len(r.byStream))
	for st := range r.byStream {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Projectors returns the registered projectors in registration order.
func (r *Registry) Projectors() []Projector {
	return append([]Projector(nil), r.projectors...)
}
