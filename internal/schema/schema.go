// Package schema describes the target of an import: the ordered field list,
// how each field is located in the source, and which fields form the
// conflict key used by the upsert engine. The pipeline never inspects a
// model or table beyond the values declared here.
package schema

// LocatorKind selects the column addressing mode for one field.
type LocatorKind int

const (
	// LocatorPositional maps declared fields 1:1 onto source columns in order.
	LocatorPositional LocatorKind = iota
	// LocatorName resolves the column through the sanitized source header.
	LocatorName
	// LocatorIndex addresses a fixed 0-based source column.
	LocatorIndex
)

// Locator identifies where a target field's value comes from in the source.
type Locator struct {
	Kind  LocatorKind
	Name  string
	Index int
}

// ByName builds a header-name locator.
func ByName(name string) Locator {
	return Locator{Kind: LocatorName, Name: name}
}

// ByIndex builds a fixed-index locator.
func ByIndex(index int) Locator {
	return Locator{Kind: LocatorIndex, Index: index}
}

// Positional builds a positional locator.
func Positional() Locator {
	return Locator{Kind: LocatorPositional}
}

// Field is one target column of the import.
type Field struct {
	Name        string
	Source      Locator
	ConflictKey bool
}

// TargetSchema is the ordered list of target fields for one import.
type TargetSchema struct {
	Fields []Field
}

// Names returns the target field names in declared order.
func (s TargetSchema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// ConflictKeys returns the names of the fields marked as conflict keys, in
// declared order.
func (s TargetSchema) ConflictKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.ConflictKey {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// NonKeyColumns returns the names of the fields not marked as conflict keys,
// in declared order. This is exactly the column set overwritten by an upsert.
func (s TargetSchema) NonKeyColumns() []string {
	var cols []string
	for _, f := range s.Fields {
		if !f.ConflictKey {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// Provider is the contract consumed from a target-schema provider. The
// pipeline never looks beyond these two calls.
type Provider interface {
	// ColumnsImport returns the ordered target field -> source locator list.
	ColumnsImport() []Field
	// Uniques returns the set of target fields forming the conflict key.
	Uniques() map[string]struct{}
}

// FromProvider materializes a TargetSchema from a provider, folding the
// unique set into per-field conflict-key flags.
func FromProvider(p Provider) TargetSchema {
	columns := p.ColumnsImport()
	uniques := p.Uniques()
	fields := make([]Field, len(columns))
	for i, c := range columns {
		_, isKey := uniques[c.Name]
		fields[i] = Field{Name: c.Name, Source: c.Source, ConflictKey: isKey}
	}
	return TargetSchema{Fields: fields}
}

// StaticProvider is a Provider backed by literal values, for callers that
// build schemas by hand.
type StaticProvider struct {
	Columns []Field
	Keys    []string
}

func (sp StaticProvider) ColumnsImport() []Field {
	return sp.Columns
}

func (sp StaticProvider) Uniques() map[string]struct{} {
	set := make(map[string]struct{}, len(sp.Keys))
	for _, k := range sp.Keys {
		set[k] = struct{}{}
	}
	return set
}
