// Package indexcache implements the write-through cache sitting in front of
// storedb: reads are served from memory when possible and otherwise loaded
// and normalized from storage, writes land in both places, and entries are
// evicted on a byte budget once the cache grows past it. Tables are not Go
// structs here - the schema is config data, so one cache implementation
// serves every source's tables without code generation.
package indexcache

// ColumnKind controls how a column's value is normalized before it is
// cached or written to storage.
type ColumnKind int

const (
	// ColumnKindPlain values pass through normalization unchanged (aside
	// from the undefined -> null and not-null/default handling every
	// column gets).
	ColumnKindPlain ColumnKind = iota
	// ColumnKindHex values are lowercased and left-padded to ByteLength
	// bytes of hex, e.g. an address or hash column.
	ColumnKindHex
	// ColumnKindJSON values are marshaled to a JSON string on write; a
	// *big.Int anywhere in the value fails the write rather than being
	// silently coerced into a JSON number.
	ColumnKindJSON
)

// Column describes one table column's normalization and write behavior.
type Column struct {
	Name string
	Kind ColumnKind

	// ByteLength is the left-pad target for ColumnKindHex columns, e.g.
	// 20 for an address, 32 for a hash or a uint256.
	ByteLength int

	NotNull bool

	// Default supplies a value at insert time when the column is absent
	// from the values given to Insert. Mirrors a SQL column default.
	Default func() any

	// OnUpdate recomputes the column's value on every Update, mirroring
	// a SQL ON UPDATE trigger (e.g. bumping an updated_at timestamp).
	OnUpdate func(current any) any
}

// TableSchema describes a cached table: its columns and which one is the
// primary key normal find/insert/update/delete operations key on.
type TableSchema struct {
	Name string
	PK   string
	Cols []Column
}

// ColumnNames returns every column's name in declaration order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Cols))
	for i, c := range t.Cols {
		names[i] = c.Name
	}
	return names
}

func (t *TableSchema) column(name string) (Column, bool) {
	for _, c := range t.Cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
