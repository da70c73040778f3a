// Package datasource holds the provenance records attached to every value
// extracted from an xresloader binary.
package datasource

import (
	"cmp"
	"slices"
)

// Unknown is the file and sheet name used when a row cannot be attributed to
// any data source listed in the binary header.
const Unknown = "[UNKNOWN]"

// Item identifies the (file, sheet) pair a value was read from. Item is a
// comparable value type: two items are the same provenance when both names
// match, regardless of which *Item instance carries them.
type Item struct {
	File  string
	Sheet string
}

// Compare orders items by file, then sheet.
func (i Item) Compare(o Item) int {
	if c := cmp.Compare(i.File, o.File); c != 0 {
		return c
	}
	return cmp.Compare(i.Sheet, o.Sheet)
}

// Sheet is one data source entry of a block header: the shared provenance
// item plus the number of rows it contributed (0 when unknown).
type Sheet struct {
	Item  *Item
	Count int32
}

// NewSheet creates a sheet data source with a fresh shared item.
func NewSheet(file, sheet string, count int32) Sheet {
	return Sheet{Item: &Item{File: file, Sheet: sheet}, Count: count}
}

// UnknownSheet returns the fallback data source.
func UnknownSheet() Sheet {
	return NewSheet(Unknown, Unknown, 0)
}

// Block is the per-binary header: versions, the binary path, row count,
// content hash, free-text description and the ordered data sources.
// A Block is created once before row iteration and never mutated afterwards.
type Block struct {
	XresVer     string
	DataVer     string
	FilePath    string
	Count       uint32
	HashCode    string
	Description string
	DataSource  []Sheet
}

// SortedDataSource returns a copy of the data sources ordered by (file, sheet).
func (b *Block) SortedDataSource() []Sheet {
	out := slices.Clone(b.DataSource)
	slices.SortStableFunc(out, func(a, b Sheet) int {
		return a.Item.Compare(*b.Item)
	})
	return out
}

// Cursor walks the data sources of a block in row order. Each data source
// covers Count consecutive rows; rows past the last declared source keep the
// last one (or Unknown when the header lists none).
type Cursor struct {
	sources []Sheet
	next    int
	left    int32
	current Sheet
}

// NewCursor creates a cursor positioned before the first row.
func NewCursor(sources []Sheet) *Cursor {
	return &Cursor{sources: sources, current: UnknownSheet()}
}

// Next advances the cursor by one row and returns the data source of that row.
func (c *Cursor) Next() Sheet {
	if c.left <= 0 && c.next < len(c.sources) {
		c.current = c.sources[c.next]
		c.left = c.current.Count
		c.next++
	}
	if c.left > 0 {
		c.left--
	}
	return c.current
}
