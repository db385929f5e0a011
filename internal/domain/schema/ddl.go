package schema

import (
	"fmt"
	"regexp"
)

var createTableName = regexp.MustCompile(`(?is)^(\s*CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?)([^\s(]+)`)

// QualifiedName returns table prefixed with the schema's database.
func (s *Schema) QualifiedName(table string) string {
	if s.Database == "" {
		return table
	}
	return s.Database + "." + table
}

// CreateStatementFor returns the declared CREATE TABLE statement with its
// table name replaced by the qualified name of table.
func (s *Schema) CreateStatementFor(table string) (string, error) {
	if !createTableName.MatchString(s.CreateStatement) {
		return "", fmt.Errorf("schema %s: table statement is not a CREATE TABLE", s.Source)
	}
	loc := createTableName.FindStringSubmatchIndex(s.CreateStatement)
	return s.CreateStatement[:loc[4]] + s.QualifiedName(table) + s.CreateStatement[loc[5]:], nil
}
