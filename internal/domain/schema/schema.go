// Package schema holds the per-entity mapping definitions: which source
// collection feeds which target table, how each target column is resolved
// from a source document, and how the target table is buffered.
package schema

import (
	"fmt"
)

// Injected columns carried by every replicated row.
const (
	VersionField = "_ver"
	DeletedField = "_deleted"
)

// Field describes how one target column is produced.
type Field struct {
	// Name is the target column name.
	Name string
	// Ref is the source document field; defaults to Name.
	Ref string
	// Casters are tried in order; the first one that succeeds wins.
	Casters []string
	Required bool
	// Default is used for absent optional fields when HasDefault is set.
	Default    any
	HasDefault bool
	// ColumnType is the declared target column type, informational.
	ColumnType string
}

// SourceRef returns the source field name the column is read from.
func (f Field) SourceRef() string {
	if f.Ref != "" {
		return f.Ref
	}
	return f.Name
}

// Buffer holds the write-buffer table parameters.
type Buffer struct {
	NumLayers int64 `yaml:"num_layers"`
	MinTime   int64 `yaml:"min_time"`
	MaxTime   int64 `yaml:"max_time"`
	MinRows   int64 `yaml:"min_rows"`
	MaxRows   int64 `yaml:"max_rows"`
	MinBytes  int64 `yaml:"min_bytes"`
	MaxBytes  int64 `yaml:"max_bytes"`
}

// Schema maps a source entity onto a target table.
type Schema struct {
	Source          string
	Target          string
	Database        string
	CreateStatement string
	Fields          []Field
	PrimaryKey      string
	Buffer          *Buffer
	TopicConfig     map[string]string
	FilterExpr      string

	filter *Filter
}

// Field returns the field spec for a target column.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns target column names in schema order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// BufferTable returns the name of the write-buffer table.
func (s *Schema) BufferTable() string {
	return s.Target + "_Buffer"
}

// TempTable returns the name of the staging table used by bulk loads.
func (s *Schema) TempTable() string {
	return s.Target + "Temp"
}

// WriteTable returns the table rows are inserted into.
func (s *Schema) WriteTable() string {
	if s.Buffer != nil {
		return s.BufferTable()
	}
	return s.Target
}

// PrimaryKeyType returns the declared column type of the primary key.
func (s *Schema) PrimaryKeyType() (string, error) {
	f, ok := s.Field(s.PrimaryKey)
	if !ok {
		return "", fmt.Errorf("primary key %q is not a field of %s", s.PrimaryKey, s.Target)
	}
	return f.ColumnType, nil
}

// Match evaluates the optional row filter. Schemas without a filter match everything.
func (s *Schema) Match(doc map[string]any) (bool, error) {
	if s.filter == nil {
		return true, nil
	}
	return s.filter.Match(doc)
}

// WithVersioning appends the injected _ver and _deleted columns unless the
// definition already declares them.
func (s *Schema) WithVersioning() *Schema {
	for _, name := range []string{VersionField, DeletedField} {
		if _, ok := s.Field(name); !ok {
			s.Fields = append(s.Fields, Field{Name: name, Casters: []string{"int"}})
		}
	}
	return s
}

// CasterSet reports which caster names are registered.
type CasterSet interface {
	Has(name string) bool
}

// Validate checks the definition for structural errors and unknown casters.
func (s *Schema) Validate(casters CasterSet) error {
	if s.Source == "" {
		return fmt.Errorf("schema has no source entity")
	}
	if s.Target == "" {
		return fmt.Errorf("schema %s: table_name is required", s.Source)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema %s: no properties defined", s.Source)
	}
	if _, ok := s.Field(s.PrimaryKey); !ok {
		return fmt.Errorf("schema %s: primary key %q is not a property", s.Source, s.PrimaryKey)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate property %q", s.Source, f.Name)
		}
		seen[f.Name] = struct{}{}
		if len(f.Casters) == 0 {
			return fmt.Errorf("schema %s: property %q has no type", s.Source, f.Name)
		}
		if casters == nil {
			continue
		}
		for _, c := range f.Casters {
			if !casters.Has(c) {
				return fmt.Errorf("schema %s: property %q: %w", s.Source, f.Name, &UnknownCasterError{Field: f.Name, Caster: c})
			}
		}
	}
	return nil
}
