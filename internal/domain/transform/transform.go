// Package transform converts source documents into typed target rows
// according to a schema.
package transform

import (
	"replica/internal/core/apperror"
	"replica/internal/domain/schema"
)

// Row is a target row keyed by column name.
type Row map[string]any

// Values returns the row values in column order.
func (r Row) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// Transformer binds a caster table. It holds no other state and may be
// shared by any number of goroutines.
type Transformer struct {
	casters *Casters
}

// New creates a Transformer over casters.
func New(casters *Casters) *Transformer {
	return &Transformer{casters: casters}
}

// Transform builds the row of s from doc. doc is not modified.
// Errors are AppErrors with one of the transformation codes.
func (t *Transformer) Transform(s *schema.Schema, doc map[string]any) (Row, error) {
	row := make(Row, len(s.Fields))
	for _, f := range s.Fields {
		ref := f.SourceRef()

		value, present := doc[ref]
		if !present || value == nil {
			switch {
			case f.Name == s.PrimaryKey:
				return nil, apperror.NewMissingPrimaryKey(f.Name, ref)
			case f.Required:
				return nil, apperror.NewMissingRequiredField(f.Name, ref)
			case !f.HasDefault || f.Default == nil:
				row[f.Name] = nil
				continue
			default:
				value = f.Default
			}
		}

		cast, err := t.cast(f, value)
		if err != nil {
			return nil, err
		}
		row[f.Name] = cast
	}
	return row, nil
}

// cast applies the field's casters in order and returns the first success.
func (t *Transformer) cast(f schema.Field, value any) (any, error) {
	var lastErr error
	for _, name := range f.Casters {
		fn, ok := t.casters.Lookup(name)
		if !ok {
			return nil, apperror.NewUnknownCaster(f.Name, name)
		}
		out, err := fn(value)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, apperror.NewCastFailure(f.Name, f.Casters, value).WithCause(lastErr)
}
