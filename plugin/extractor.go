package plugin

import (
	"errors"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/zero-day-ai/xresdump/datasource"
	"github.com/zero-day-ai/xresdump/dumperr"
	"github.com/zero-day-ai/xresdump/walker"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Plugin names.
const (
	StringTableName = "string_table"
	TaggedFieldName = "tagged_data"
)

// Extractor is a Plugin that walks rows with a filter and collects the
// accepted values.
type Extractor struct {
	name string
	opts Options

	mu sync.Mutex
	// arena holds open blocks; pushed slots are nil.
	arena   []*Block
	content []*Block
}

var _ Plugin = (*Extractor)(nil)

// New creates an extractor plugin with the given name.
func New(name string, opts Options) *Extractor {
	return &Extractor{name: name, opts: opts}
}

// NewStringTable creates the string table plugin. The filter should accept
// string values only.
func NewStringTable(opts Options) *Extractor {
	return New(StringTableName, opts)
}

// NewTaggedField creates the tagged field plugin.
func NewTaggedField(opts Options) *Extractor {
	return New(TaggedFieldName, opts)
}

func (x *Extractor) Name() string { return x.name }

func (x *Extractor) Pretty() bool { return x.opts.Pretty }

// Descriptor returns the plugin configuration.
func (x *Extractor) Descriptor() Descriptor {
	return Descriptor{
		Name:     x.name,
		Ordered:  x.opts.Ordered,
		Pretty:   x.opts.Pretty,
		JSONFile: x.opts.JSONFile,
		TextFile: x.opts.TextFile,
	}
}

func (x *Extractor) CreateBlock(header *datasource.Block) BlockID {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.arena = append(x.arena, newBlock(header))
	return BlockID(len(x.arena) - 1)
}

func (x *Extractor) block(id BlockID) *Block {
	if id < 0 || int(id) >= len(x.arena) {
		return nil
	}
	return x.arena[id]
}

func (x *Extractor) LoadMessage(id BlockID, msg protoreflect.Message, src *datasource.Item) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	b := x.block(id)
	if b == nil || x.opts.Filter == nil {
		return 0
	}

	routed := 0
	walker.Walk(msg, x.opts.Filter, src, walker.SinkFunc(func(value string, src *datasource.Item) {
		routed++
		b.Add(value, src)
	}))
	return routed
}

func (x *Extractor) PushBlock(id BlockID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	b := x.block(id)
	if b == nil {
		return false
	}
	x.arena[id] = nil

	if len(b.Body) == 0 {
		return false
	}
	x.content = append(x.content, b)
	return true
}

// Blocks returns the retained blocks in push order.
func (x *Extractor) Blocks() []*Block {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.content)
}

func (x *Extractor) ToJSON() []any {
	x.mu.Lock()
	defer x.mu.Unlock()

	docs := make([]any, 0, len(x.content))
	for _, b := range x.content {
		docs = append(docs, blockJSON(b, x.opts.Ordered))
	}
	return docs
}

func (x *Extractor) ToText() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	seen := make(map[string]struct{})
	var values []string
	for _, b := range x.content {
		for v := range b.Body {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			values = append(values, v)
		}
	}
	slices.Sort(values)
	return values
}

func (x *Extractor) Flush(pretty bool) error {
	var errs []error

	if x.opts.TextFile != "" {
		var sb strings.Builder
		for _, line := range x.ToText() {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
		if err := writeFile(x.name, x.opts.TextFile, []byte(sb.String())); err != nil {
			errs = append(errs, err)
		}
	}

	if x.opts.JSONFile != "" {
		data, err := Encode(x.ToJSON(), pretty)
		if err != nil {
			errs = append(errs, dumperr.Newf(x.name, "flush", dumperr.ErrCodeOutputFailed,
				"encode %s failed", x.opts.JSONFile).WithCause(err))
		} else if err := writeFile(x.name, x.opts.JSONFile, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func writeFile(name, path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return dumperr.Newf(name, "flush", dumperr.ErrCodeOutputFailed, "write %s failed", path).
			WithCause(err).
			WithDetails(map[string]any{"path": path})
	}
	return nil
}
