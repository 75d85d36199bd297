package event

import "testing"

func TestGetByLabel(t *testing.T) {
	evt := New(ID{Run: 1, LuminosityBlock: 2, Event: 3})
	evt.Put(GenParticlesLabel, GenParticleCollection{{Pt: 10, PdgID: 11, Status: 1}})
	evt.Put("empty", GenParticleCollection{})
	evt.Put("invalid", nil)

	tests := []struct {
		label string
		valid bool
		n     int
	}{
		{GenParticlesLabel, true, 1},
		{"empty", true, 0},
		{"invalid", false, 0},
		{"missing", false, 0},
	}

	for _, tt := range tests {
		h := evt.GetByLabel(tt.label)
		if h.Valid() != tt.valid {
			t.Errorf("GetByLabel(%q).Valid() = %v, want %v", tt.label, h.Valid(), tt.valid)
		}
		if h.Len() != tt.n {
			t.Errorf("GetByLabel(%q).Len() = %d, want %d", tt.label, h.Len(), tt.n)
		}
	}
}

func TestInvalidHandleHasNoProduct(t *testing.T) {
	var h Handle
	if h.Product() != nil {
		t.Error("Zero handle must not expose a product")
	}
}

func TestID_String(t *testing.T) {
	id := ID{Run: 1, LuminosityBlock: 7, Event: 42}
	if got := id.String(); got != "1:7:42" {
		t.Errorf("String() = %q", got)
	}
}

func TestZeroEventPut(t *testing.T) {
	var evt Event
	evt.Put(GenParticlesLabel, GenParticleCollection{})
	if !evt.GetByLabel(GenParticlesLabel).Valid() {
		t.Error("Put on zero Event should initialize products")
	}
}
