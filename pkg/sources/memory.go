package sources

import (
	"context"

	"github.com/physobj/physobj/pkg/event"
)

// MemorySource replays a fixed slice of events.
type MemorySource struct {
	name   string
	events []*event.Event
}

// NewMemorySource creates a source over events.
func NewMemorySource(name string, events ...*event.Event) *MemorySource {
	return &MemorySource{name: name, events: events}
}

func (m *MemorySource) Name() string { return "memory://" + m.name }

func (m *MemorySource) Events(ctx context.Context, out chan<- *event.Event) error {
	for _, evt := range m.events {
		if err := send(ctx, out, evt, m.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySource) Close() error { return nil }
