package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaNotFound is returned when no definition exists for an entity.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrEntityNotAllowed is returned for entities outside the configured sync set.
	ErrEntityNotAllowed = errors.New("entity is not allowed")
)

// UnknownCasterError reports a caster name that is not registered.
type UnknownCasterError struct {
	Field  string
	Caster string
}

func (e *UnknownCasterError) Error() string {
	return fmt.Sprintf("unknown caster %q for field %q", e.Caster, e.Field)
}
