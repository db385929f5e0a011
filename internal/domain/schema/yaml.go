package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// definition is the on-disk layout of one entity mapping file.
type definition struct {
	TableName   string            `yaml:"table_name"`
	Table       string            `yaml:"table"`
	Schema      schemaDefinition  `yaml:"schema"`
	Buffer      *Buffer           `yaml:"buffer"`
	TopicConfig map[string]string `yaml:"topic_config"`
	Filter      string            `yaml:"filter"`
}

type schemaDefinition struct {
	PrimaryKey string `yaml:"primary_key"`
	// Properties is kept as a node so that column order survives decoding.
	Properties yaml.Node `yaml:"properties"`
}

type propertyDefinition struct {
	Type     yaml.Node `yaml:"type"`
	Ref      string    `yaml:"ref"`
	Required bool      `yaml:"required"`
	Default  yaml.Node `yaml:"default"`
	ChType   string    `yaml:"ch_type"`
}

// LoadFile reads the mapping of source entity from path.
func LoadFile(path, source, database string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := Parse(data, source, database)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a mapping definition.
func Parse(data []byte, source, database string) (*Schema, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}

	fields, err := decodeProperties(&def.Schema.Properties)
	if err != nil {
		return nil, err
	}

	s := &Schema{
		Source:          source,
		Target:          def.TableName,
		Database:        database,
		CreateStatement: def.Table,
		Fields:          fields,
		PrimaryKey:      def.Schema.PrimaryKey,
		Buffer:          def.Buffer,
		TopicConfig:     def.TopicConfig,
		FilterExpr:      def.Filter,
	}

	if def.Filter != "" {
		f, err := CompileFilter(def.Filter)
		if err != nil {
			return nil, err
		}
		s.filter = f
	}
	return s, nil
}

func decodeProperties(node *yaml.Node) ([]Field, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("properties must be a mapping (line %d)", node.Line)
	}

	fields := make([]Field, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value

		var prop propertyDefinition
		if err := node.Content[i+1].Decode(&prop); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}

		casters, err := decodeCasters(&prop.Type)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}

		f := Field{
			Name:       name,
			Ref:        prop.Ref,
			Casters:    casters,
			Required:   prop.Required,
			ColumnType: prop.ChType,
		}
		if prop.Default.Kind != 0 {
			if err := prop.Default.Decode(&f.Default); err != nil {
				return nil, fmt.Errorf("property %q default: %w", name, err)
			}
			f.HasDefault = true
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// decodeCasters accepts a single caster name or a sequence of names.
func decodeCasters(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil, err
		}
		return names, nil
	default:
		return nil, fmt.Errorf("type must be a caster name or a list of names (line %d)", node.Line)
	}
}
