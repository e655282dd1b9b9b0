package docschema

import (
	"fmt"

	"github.com/docschema/docschema/kit/platform/errors"
)

// ErrDocumentNotFound is returned by a DocumentStore when a document
// addressed by identity does not exist.
var ErrDocumentNotFound = &errors.Error{
	Code: errors.ENotFound,
	Msg:  "document not found",
}

// MissingMappingError is returned when a document type has no collection
// registered for it.
type MissingMappingError struct {
	Type DocumentType
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("%s does not have a mapping to a collection name configured", e.Type)
}

// Code implements errors.Coder.
func (e *MissingMappingError) Code() string { return errors.ENotFound }

// DuplicateMappingError is returned when a document type is registered to a
// collection twice. Mappings are write-once.
type DuplicateMappingError struct {
	Type       DocumentType
	Collection string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("%s is already mapped to collection %q", e.Type, e.Collection)
}

// Code implements errors.Coder.
func (e *DuplicateMappingError) Code() string { return errors.EConflict }

// InvalidArgumentError represents a misuse of a registration call.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

// Code implements errors.Coder.
func (e *InvalidArgumentError) Code() string { return errors.EInvalid }

// DuplicateMigrationVersionError is returned at construction time when two
// migrations of the same scope share a version number.
type DuplicateMigrationVersionError struct {
	// Scope is either DatabaseScope or the document type the migrations
	// were registered for.
	Scope   string
	Version int
}

// DatabaseScope names the scope of database level migrations.
const DatabaseScope = "database"

func (e *DuplicateMigrationVersionError) Error() string {
	if e.Scope == DatabaseScope {
		return fmt.Sprintf("multiple database migrations defined with version number %d", e.Version)
	}
	return fmt.Sprintf("multiple document migrations defined for type %s with version number %d", e.Scope, e.Version)
}

// Code implements errors.Coder.
func (e *DuplicateMigrationVersionError) Code() string { return errors.EConflict }

// ConfigurationError is returned when the engine is used with an unusable
// setting, for instance an empty version field name.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Setting, e.Reason)
}

// Code implements errors.Coder.
func (e *ConfigurationError) Code() string { return errors.EInvalid }

// InterceptorResolutionError is returned when a versioned document type has
// no interceptor bound. It indicates a wiring defect in the host.
type InterceptorResolutionError struct {
	Type DocumentType
}

func (e *InterceptorResolutionError) Error() string {
	return fmt.Sprintf("no migration interceptor installed for versioned type %s", e.Type)
}

// Code implements errors.Coder.
func (e *InterceptorResolutionError) Code() string { return errors.EInternal }
