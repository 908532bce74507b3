package engine

import (
	"fmt"
	"sort"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/vm"
)

// Registry maps instrument ids to their compiled templates. Definitions are
// staged and become visible only when the engine commits them at the next
// sync point; the last definition staged for an id wins.
type Registry struct {
	templates map[kantele.InstrumentID]*vm.Template
	staged    map[kantele.InstrumentID]*vm.Template
	order     []kantele.InstrumentID
}

func NewRegistry() *Registry {
	return &Registry{
		templates: map[kantele.InstrumentID]*vm.Template{},
		staged:    map[kantele.InstrumentID]*vm.Template{},
	}
}

// Define stages a template for id.
func (r *Registry) Define(id kantele.InstrumentID, t *vm.Template) {
	if _, ok := r.staged[id]; !ok {
		r.order = append(r.order, id)
	}
	r.staged[id] = t
}

// Commit makes every staged definition visible and returns the ids that
// changed, in the order they were first staged. Instances built from
// replaced templates keep their own template pointer.
func (r *Registry) Commit() []kantele.InstrumentID {
	ret := r.order
	for _, id := range r.order {
		r.templates[id] = r.staged[id]
	}
	r.staged = map[kantele.InstrumentID]*vm.Template{}
	r.order = nil
	return ret
}

// Lookup returns the committed template of id.
func (r *Registry) Lookup(id kantele.InstrumentID) (*vm.Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: instr %v", kantele.ErrUnknownInstrument, id)
	}
	return t, nil
}

// IDs returns the committed instrument ids: numbered instruments in numeric
// order first, then named ones alphabetically.
func (r *Registry) IDs() []kantele.InstrumentID {
	ret := make([]kantele.InstrumentID, 0, len(r.templates))
	for id := range r.templates {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool {
		a, aok := ret[i].Number()
		b, bok := ret[j].Number()
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		}
		return ret[i] < ret[j]
	})
	return ret
}

// Len returns the number of committed instruments.
func (r *Registry) Len() int {
	return len(r.templates)
}
