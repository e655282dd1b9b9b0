// Package version resolves the schema version each document type should be at.
package version

import (
	"fmt"
	"sync"

	"github.com/docschema/docschema"
	"go.uber.org/zap"
)

// DefaultVersionField is the document field holding its schema version.
const DefaultVersionField = "_schemaVersion"

var _ docschema.VersionLocator = (*Locator)(nil)

// Locator maps every document type to its target version: the highest
// version among the type's registered migrations, unless overridden.
type Locator struct {
	log          *zap.Logger
	versionField string

	mu      sync.RWMutex
	targets map[docschema.DocumentType]int
}

// Option configures a Locator.
type Option func(*Locator)

// WithVersionField sets the name of the injected version field.
func WithVersionField(name string) Option {
	return func(l *Locator) {
		l.versionField = name
	}
}

// WithLogger sets the logger used to report registration problems.
func WithLogger(log *zap.Logger) Option {
	return func(l *Locator) {
		l.log = log
	}
}

// NewLocator builds the target version table from migrations. It fails with
// a *docschema.DuplicateMigrationVersionError when two migrations of the same
// type share a version.
func NewLocator(migrations []docschema.DocumentMigration, opts ...Option) (*Locator, error) {
	l := &Locator{
		log:          zap.NewNop(),
		versionField: DefaultVersionField,
		targets:      map[docschema.DocumentType]int{},
	}
	for _, opt := range opts {
		opt(l)
	}

	seen := map[docschema.DocumentType]map[int]bool{}
	for _, m := range migrations {
		typ, v := m.DocumentType(), m.Version()
		if v < 1 || v > docschema.MaxVersion {
			return nil, &docschema.InvalidArgumentError{
				Argument: "migration version",
				Reason:   fmt.Sprintf("document migration for type %s has version %d; versions range from 1 to %d", typ, v, docschema.MaxVersion),
			}
		}
		if seen[typ] == nil {
			seen[typ] = map[int]bool{}
		}
		if seen[typ][v] {
			l.log.Warn("Multiple document migrations defined for type with the same version number",
				zap.String("document_type", string(typ)),
				zap.Int("version", v))
			return nil, &docschema.DuplicateMigrationVersionError{Scope: string(typ), Version: v}
		}
		seen[typ][v] = true

		if v > l.targets[typ] {
			l.targets[typ] = v
		}
	}

	return l, nil
}

// TargetVersion returns the version documents of typ are migrated to, or 0
// when typ has no migrations.
func (l *Locator) TargetVersion(typ docschema.DocumentType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.targets[typ]
}

// SetTargetVersion overrides the computed target of typ. Zero leaves
// documents of typ unversioned.
func (l *Locator) SetTargetVersion(typ docschema.DocumentType, version int) error {
	if version < 0 || version > docschema.MaxVersion {
		return &docschema.InvalidArgumentError{
			Argument: "target version",
			Reason:   fmt.Sprintf("%d is outside 0..%d", version, docschema.MaxVersion),
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets[typ] = version
	return nil
}

// IsVersioned reports whether documents of typ carry a version field.
func (l *Locator) IsVersioned(typ docschema.DocumentType) bool {
	return l.TargetVersion(typ) > 0
}

// VersionField returns the name of the injected version field.
func (l *Locator) VersionField() string {
	return l.versionField
}
