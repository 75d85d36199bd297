// Package event defines the per-event data delivered to analyzers.
package event

import "fmt"

// GenParticlesLabel is the product label of the generator-level particle collection.
const GenParticlesLabel = "genParticles"

// ID identifies an event within a run and luminosity block.
type ID struct {
	Run             uint32
	LuminosityBlock uint32
	Event           uint64
}

func (id ID) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Run, id.LuminosityBlock, id.Event)
}

// GenParticle is a generator-level particle record.
type GenParticle struct {
	Pt     float32 `json:"pt"`
	Eta    float32 `json:"eta"`
	Mass   float32 `json:"mass"`
	Phi    float32 `json:"phi"`
	PdgID  int32   `json:"pdgId"`
	Status int32   `json:"status"`
}

// GenParticleCollection is an ordered collection of generator particles.
type GenParticleCollection []GenParticle

// Handle is the result of looking up a collection by label.
// A valid handle may still hold zero particles.
type Handle struct {
	coll  GenParticleCollection
	valid bool
}

// NewHandle returns a valid handle wrapping coll.
func NewHandle(coll GenParticleCollection) Handle {
	return Handle{coll: coll, valid: true}
}

// Valid reports whether the lookup produced a usable collection.
func (h Handle) Valid() bool { return h.valid }

// Product returns the collection, nil when the handle is invalid.
func (h Handle) Product() GenParticleCollection {
	if !h.valid {
		return nil
	}
	return h.coll
}

// Len returns the number of particles, 0 when the handle is invalid.
func (h Handle) Len() int { return len(h.Product()) }

// Event is one collision record: an ID plus products keyed by label.
// A product stored as nil is present but invalid.
type Event struct {
	ID ID

	products map[string]GenParticleCollection
}

// New creates an empty event.
func New(id ID) *Event {
	return &Event{
		ID:       id,
		products: make(map[string]GenParticleCollection),
	}
}

// Put stores a collection under label. Passing nil marks the product invalid.
func (e *Event) Put(label string, coll GenParticleCollection) {
	if e.products == nil {
		e.products = make(map[string]GenParticleCollection)
	}
	e.products[label] = coll
}

// GetByLabel looks up a collection. Absent and nil products yield an invalid handle.
func (e *Event) GetByLabel(label string) Handle {
	coll, ok := e.products[label]
	if !ok || coll == nil {
		return Handle{}
	}
	return NewHandle(coll)
}

// Labels returns the product labels stored in the event.
func (e *Event) Labels() []string {
	labels := make([]string, 0, len(e.products))
	for l := range e.products {
		labels = append(labels, l)
	}
	return labels
}
