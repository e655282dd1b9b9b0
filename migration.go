package docschema

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// MaxVersion is the highest migration or target version. Versions are
// stored as 32-bit integers.
const MaxVersion = math.MaxInt32

// DocumentType identifies the application type a stored document decodes
// into, for example "user".
type DocumentType string

// Timing controls when a document migration is eligible to run.
type Timing int

const (
	// AtStart migrations run in the eager bulk pass at start-up.
	AtStart Timing = iota
	// OnAccess migrations run lazily when a document is read.
	OnAccess
)

// String returns a string representation of the timing.
func (t Timing) String() string {
	switch t {
	case AtStart:
		return "at-start"
	case OnAccess:
		return "on-access"
	default:
		return "unknown"
	}
}

// ParseTiming parses the output of Timing.String.
func ParseTiming(s string) (Timing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "at-start", "atstart", "start":
		return AtStart, nil
	case "on-access", "onaccess", "access":
		return OnAccess, nil
	}
	return 0, &InvalidArgumentError{Argument: "timing", Reason: fmt.Sprintf("unknown timing %q", s)}
}

// MarshalText implements encoding.TextMarshaler.
func (t Timing) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Timing) UnmarshalText(text []byte) error {
	v, err := ParseTiming(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// DatabaseMigration is a side-effecting change to the whole store, such as
// creating or dropping an index. Versions are unique across all database
// migrations of a registry.
type DatabaseMigration interface {
	Version() int
	// Up migrates the database from the previous version to this version.
	Up(ctx context.Context, store DocumentStore) error
	// Down migrates the database from this version to the previous version.
	Down(ctx context.Context, store DocumentStore) error
}

// DocumentMigration is a transform of a single document of one type.
// Versions are unique per document type.
type DocumentMigration interface {
	Version() int
	Timing() Timing
	DocumentType() DocumentType
	// Up migrates the document from the previous version to this version.
	Up(doc *Document) error
	// Down migrates the document from this version to the previous version.
	Down(doc *Document) error
}

// Registry is the host supplied, already materialized set of migrations.
type Registry struct {
	Database  []DatabaseMigration
	Documents []DocumentMigration
}

// DocumentTypes returns the distinct document types which have at least one
// registered migration, in registration order.
func (r Registry) DocumentTypes() []DocumentType {
	seen := make(map[DocumentType]bool)
	var types []DocumentType
	for _, m := range r.Documents {
		if seen[m.DocumentType()] {
			continue
		}
		seen[m.DocumentType()] = true
		types = append(types, m.DocumentType())
	}
	return types
}

// DatabaseMigrationFunc is the signature of database migration steps.
type DatabaseMigrationFunc func(ctx context.Context, store DocumentStore) error

// DocumentMigrationFunc is the signature of document transforms.
type DocumentMigrationFunc func(doc *Document) error

// NoModification is a document transform which leaves the document as it is.
// Registering it still moves documents to the migration's version.
func NoModification(*Document) error { return nil }

// NewDatabaseMigration returns a DatabaseMigration from a pair of functions.
// A nil down function makes Down a no-op.
func NewDatabaseMigration(version int, up, down DatabaseMigrationFunc) DatabaseMigration {
	return &databaseMigration{version: version, up: up, down: down}
}

type databaseMigration struct {
	version  int
	up, down DatabaseMigrationFunc
}

func (m *databaseMigration) Version() int { return m.version }

func (m *databaseMigration) Up(ctx context.Context, store DocumentStore) error {
	if m.up == nil {
		return nil
	}
	return m.up(ctx, store)
}

func (m *databaseMigration) Down(ctx context.Context, store DocumentStore) error {
	if m.down == nil {
		return nil
	}
	return m.down(ctx, store)
}

// NewDocumentMigration returns a DocumentMigration from a pair of transforms.
func NewDocumentMigration(typ DocumentType, version int, timing Timing, up, down DocumentMigrationFunc) DocumentMigration {
	if up == nil {
		up = NoModification
	}
	if down == nil {
		down = NoModification
	}
	return &documentMigration{
		typ:     typ,
		version: version,
		timing:  timing,
		up:      up,
		down:    down,
	}
}

// UpOnlyDocumentMigration returns a DocumentMigration whose Down leaves the
// document unchanged.
func UpOnlyDocumentMigration(typ DocumentType, version int, timing Timing, up DocumentMigrationFunc) DocumentMigration {
	return NewDocumentMigration(typ, version, timing, up, NoModification)
}

type documentMigration struct {
	typ      DocumentType
	version  int
	timing   Timing
	up, down DocumentMigrationFunc
}

func (m *documentMigration) Version() int               { return m.version }
func (m *documentMigration) Timing() Timing             { return m.timing }
func (m *documentMigration) DocumentType() DocumentType { return m.typ }
func (m *documentMigration) Up(doc *Document) error     { return m.up(doc) }
func (m *documentMigration) Down(doc *Document) error   { return m.down(doc) }

// VersionLocator resolves the target schema version of document types.
type VersionLocator interface {
	TargetVersion(typ DocumentType) int
	IsVersioned(typ DocumentType) bool
	VersionField() string
}

// DocumentMigrator brings a single in-memory document to the target version
// of its type. It returns the number of transforms applied.
type DocumentMigrator interface {
	MigrateDocument(doc *Document, typ DocumentType, timing Timing) (int, error)
}

// CollectionResolver maps document types to collection names.
type CollectionResolver interface {
	Resolve(typ DocumentType) (string, error)
}
