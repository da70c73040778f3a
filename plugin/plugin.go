package plugin

import (
	"github.com/zero-day-ai/xresdump/datasource"
	"github.com/zero-day-ai/xresdump/walker"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// BlockID is an opaque handle to a block owned by one plugin. A BlockID is
// only meaningful for the plugin that returned it.
type BlockID int

// Plugin is the interface for output plugins.
type Plugin interface {
	// Name returns the unique identifier for the plugin.
	Name() string

	// CreateBlock starts a block for one binary.
	CreateBlock(header *datasource.Block) BlockID

	// LoadMessage walks one decoded row into the block and returns the number
	// of values routed to it, including values already present.
	LoadMessage(id BlockID, msg protoreflect.Message, src *datasource.Item) int

	// PushBlock finalizes the block. Blocks with an empty body are dropped
	// and PushBlock reports false. The id is invalid afterwards.
	PushBlock(id BlockID) bool

	// ToJSON renders every retained block.
	ToJSON() []any

	// ToText returns every distinct value across retained blocks.
	ToText() []string

	// Flush writes the configured output files.
	Flush(pretty bool) error

	// Pretty reports whether the plugin was configured for indented JSON.
	Pretty() bool
}

// Options configures an Extractor.
type Options struct {
	// Filter selects the messages, fields and values to extract.
	Filter walker.Filter

	// Ordered sorts the JSON body by value and sources by (file, sheet).
	Ordered bool

	// Pretty indents JSON output.
	Pretty bool

	// JSONFile is the JSON output path, empty to skip.
	JSONFile string

	// TextFile is the text output path, empty to skip.
	TextFile string
}
