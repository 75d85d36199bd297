package framework

import (
	"sort"
	"strconv"

	"github.com/physobj/physobj/pkg/errors"
)

// ParameterSet holds a module's configuration as decoded from YAML or JSON.
type ParameterSet map[string]any

// String returns the value for key, or def when missing or not a string.
func (ps ParameterSet) String(key, def string) string {
	if v, ok := ps[key].(string); ok {
		return v
	}
	return def
}

// Int returns the value for key, or def when missing or not numeric.
func (ps ParameterSet) Int(key string, def int) int {
	switch v := ps[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the value for key, or def when missing or not a bool.
func (ps ParameterSet) Bool(key string, def bool) bool {
	if v, ok := ps[key].(bool); ok {
		return v
	}
	return def
}

// Keys returns the parameter names in sorted order.
func (ps ParameterSet) Keys() []string {
	keys := make([]string, 0, len(ps))
	for k := range ps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParameterSetDescription declares which parameters a plugin accepts.
type ParameterSetDescription struct {
	unknown bool
	allowed map[string]string
}

// NewDescription creates a description that accepts no parameters.
func NewDescription() *ParameterSetDescription {
	return &ParameterSetDescription{allowed: make(map[string]string)}
}

// Add declares an allowed parameter.
func (d *ParameterSetDescription) Add(key, comment string) *ParameterSetDescription {
	d.allowed[key] = comment
	return d
}

// SetUnknown makes the description accept any parameter without validation.
func (d *ParameterSetDescription) SetUnknown() *ParameterSetDescription {
	d.unknown = true
	return d
}

func (d *ParameterSetDescription) IsUnknown() bool { return d.unknown }

// Allowed returns the declared parameters and their comments.
func (d *ParameterSetDescription) Allowed() map[string]string {
	out := make(map[string]string, len(d.allowed))
	for k, v := range d.allowed {
		out[k] = v
	}
	return out
}

// Validate rejects parameters that were not declared, unless the description is unknown.
func (d *ParameterSetDescription) Validate(ps ParameterSet) error {
	if d == nil || d.unknown {
		return nil
	}
	var extra []string
	for _, k := range ps.Keys() {
		if _, ok := d.allowed[k]; !ok {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		return errors.New(errors.CodeValidationFailed, "unknown parameters").
			WithContext("parameters", extra)
	}
	return nil
}
