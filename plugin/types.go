package plugin

import (
	"slices"

	"github.com/zero-day-ai/xresdump/datasource"
)

// Sources is an insertion-ordered set of provenance items. Two items are the
// same member when their (file, sheet) pairs match.
type Sources struct {
	items []*datasource.Item
	seen  map[datasource.Item]struct{}
}

func newSources() *Sources {
	return &Sources{seen: make(map[datasource.Item]struct{})}
}

// Add inserts src unless an equal item is present and reports whether it
// was added.
func (s *Sources) Add(src *datasource.Item) bool {
	if _, ok := s.seen[*src]; ok {
		return false
	}
	s.seen[*src] = struct{}{}
	s.items = append(s.items, src)
	return true
}

// Len returns the number of distinct items.
func (s *Sources) Len() int { return len(s.items) }

// Items returns the items in first-seen order.
func (s *Sources) Items() []*datasource.Item { return slices.Clone(s.items) }

// Sorted returns the items ordered by (file, sheet).
func (s *Sources) Sorted() []*datasource.Item {
	out := slices.Clone(s.items)
	slices.SortFunc(out, func(a, b *datasource.Item) int { return a.Compare(*b) })
	return out
}

// Block accumulates the values extracted from one binary.
type Block struct {
	Header *datasource.Block
	Body   map[string]*Sources
}

func newBlock(header *datasource.Block) *Block {
	return &Block{Header: header, Body: make(map[string]*Sources)}
}

// Add records value as produced by src. Block implements walker.Sink.
func (b *Block) Add(value string, src *datasource.Item) {
	s, ok := b.Body[value]
	if !ok {
		s = newSources()
		b.Body[value] = s
	}
	s.Add(src)
}

// Values returns the distinct values of the block, sorted.
func (b *Block) Values() []string {
	values := make([]string, 0, len(b.Body))
	for v := range b.Body {
		values = append(values, v)
	}
	slices.Sort(values)
	return values
}

// Descriptor describes a plugin's configuration.
type Descriptor struct {
	Name     string
	Ordered  bool
	Pretty   bool
	JSONFile string
	TextFile string
}
