package interceptor

import (
	"fmt"

	"github.com/docschema/docschema"
	"go.mongodb.org/mongo-driver/bson"
)

var _ Codec = (*Interceptor)(nil)

// Interceptor is the codec of one versioned document type. Encode stamps the
// target version on the outermost document; Decode migrates the stored
// document in memory and strips the version field before handing it to the
// wrapped codec.
type Interceptor struct {
	typ      docschema.DocumentType
	locator  docschema.VersionLocator
	migrator docschema.DocumentMigrator
	base     Codec
}

// New returns an interceptor for typ wrapping base.
func New(typ docschema.DocumentType, locator docschema.VersionLocator, migrator docschema.DocumentMigrator, base Codec) *Interceptor {
	if base == nil {
		base = BaseCodec{}
	}
	return &Interceptor{
		typ:      typ,
		locator:  locator,
		migrator: migrator,
		base:     base,
	}
}

// Type returns the document type the interceptor serves.
func (i *Interceptor) Type() docschema.DocumentType {
	return i.typ
}

func (i *Interceptor) versionField() (string, error) {
	field := i.locator.VersionField()
	if field == "" {
		return "", &docschema.ConfigurationError{
			Setting: "version field",
			Reason:  "version field name cannot be empty",
		}
	}
	return field, nil
}

// Encode writes v with the base codec and appends the version field to the
// top level document. Embedded documents are copied untouched. A version
// field produced by the base codec itself is replaced.
func (i *Interceptor) Encode(v interface{}) ([]byte, error) {
	field, err := i.versionField()
	if err != nil {
		return nil, err
	}

	raw, err := i.base.Encode(v)
	if err != nil {
		return nil, err
	}

	version := int32(i.locator.TargetVersion(i.typ))
	b := NewBuilder()
	b.OnFinalize(func(b *Builder) error {
		return b.AppendInt32(field, version)
	})
	if err := b.CopyDocument(raw, func(key string) bool { return key == field }); err != nil {
		return nil, fmt.Errorf("encoding %s document: %w", i.typ, err)
	}
	return b.Bytes()
}

// Decode migrates data to the current version of the type and decodes the
// result into v. The stored bytes are not modified.
func (i *Interceptor) Decode(data []byte, v interface{}) error {
	field, err := i.versionField()
	if err != nil {
		return err
	}

	doc, err := docschema.DecodeDocument(data)
	if err != nil {
		return fmt.Errorf("decoding %s document: %w", i.typ, err)
	}
	if _, err := i.migrator.MigrateDocument(doc, i.typ, docschema.OnAccess); err != nil {
		return err
	}
	doc.Delete(field)

	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return i.base.Decode(raw, v)
}

// Upgrade migrates a stored document and returns its new encoding with the
// version field in place. changed is false, and data is returned as is, when
// no migration applied.
func (i *Interceptor) Upgrade(data []byte) (out []byte, changed bool, err error) {
	if _, err := i.versionField(); err != nil {
		return nil, false, err
	}

	doc, err := docschema.DecodeDocument(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s document: %w", i.typ, err)
	}
	n, err := i.migrator.MigrateDocument(doc, i.typ, docschema.OnAccess)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return data, false, nil
	}

	out, err = bson.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
