package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/xresdump/datasource"
	"github.com/zero-day-ai/xresdump/dumperr"
	"github.com/zero-day-ai/xresdump/filter"
	"github.com/zero-day-ai/xresdump/walker"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// messageDescriptor builds message M { string name = 1; repeated string tags = 2; int32 level = 3; }.
func messageDescriptor(t *testing.T) protoreflect.MessageDescriptor {
	t.Helper()

	field := func(name string, number int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(name),
			Number: proto.Int32(number),
			Label:  label.Enum(),
			Type:   typ.Enum(),
		}
	}

	fd, err := protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:    proto.String("demo.proto"),
		Package: proto.String("demo"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("M"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("name", 1, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("tags", 2, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("level", 3, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, descriptorpb.FieldDescriptorProto_TYPE_INT32),
			},
		}},
	}, nil)
	require.NoError(t, err)
	return fd.Messages().ByName("M")
}

func row(md protoreflect.MessageDescriptor, name string, level int32, tags ...string) protoreflect.Message {
	m := dynamicpb.NewMessage(md)
	fields := md.Fields()
	m.Set(fields.ByName("name"), protoreflect.ValueOfString(name))
	if level != 0 {
		m.Set(fields.ByName("level"), protoreflect.ValueOfInt32(level))
	}
	list := m.Mutable(fields.ByName("tags")).List()
	for _, tag := range tags {
		list.Append(protoreflect.ValueOfString(tag))
	}
	return m
}

func header() *datasource.Block {
	return &datasource.Block{
		XresVer:     "1.0",
		DataVer:     "1",
		FilePath:    "m.bytes",
		Count:       2,
		HashCode:    "abc",
		Description: "t",
		DataSource:  []datasource.Sheet{datasource.NewSheet("a.xlsx", "S1", 2)},
	}
}

func stringTable(opts Options) *Extractor {
	if opts.Filter == nil {
		opts.Filter = filter.NewPlain(nil, filter.WithKinds(walker.KindString))
	}
	return NewStringTable(opts)
}

func TestSources(t *testing.T) {
	s := newSources()
	a1 := &datasource.Item{File: "a.xlsx", Sheet: "S1"}
	a1Copy := &datasource.Item{File: "a.xlsx", Sheet: "S1"}
	b1 := &datasource.Item{File: "b.xlsx", Sheet: "S1"}

	assert.True(t, s.Add(b1))
	assert.True(t, s.Add(a1))
	assert.False(t, s.Add(a1Copy))
	assert.Equal(t, 2, s.Len())

	assert.Equal(t, []*datasource.Item{b1, a1}, s.Items())
	assert.Equal(t, []*datasource.Item{a1, b1}, s.Sorted())
}

func TestExtractor_Dedup(t *testing.T) {
	md := messageDescriptor(t)
	p := stringTable(Options{})
	src := header().DataSource[0].Item

	id := p.CreateBlock(header())
	msg := row(md, "Alice", 7, "x", "y")
	assert.Equal(t, 3, p.LoadMessage(id, msg, src))
	assert.Equal(t, 3, p.LoadMessage(id, msg, &datasource.Item{File: "a.xlsx", Sheet: "S1"}))
	require.True(t, p.PushBlock(id))

	blocks := p.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{"Alice", "x", "y"}, blocks[0].Values())
	for _, v := range blocks[0].Values() {
		assert.Equal(t, 1, blocks[0].Body[v].Len(), v)
	}
}

func TestExtractor_EmptyBlockDropped(t *testing.T) {
	md := messageDescriptor(t)
	rules, err := filter.LoadRules(filter.RuleSource{ExcludeValueRegexRules: []string{"."}}, nil)
	require.NoError(t, err)
	p := stringTable(Options{Filter: filter.NewPlain(rules)})

	id := p.CreateBlock(header())
	assert.Equal(t, 0, p.LoadMessage(id, row(md, "Alice", 0, "x"), header().DataSource[0].Item))
	assert.False(t, p.PushBlock(id))

	assert.Empty(t, p.ToJSON())
	assert.Empty(t, p.ToText())

	data, err := Encode(p.ToJSON(), false)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestExtractor_BlockIDs(t *testing.T) {
	md := messageDescriptor(t)
	p := stringTable(Options{})

	first := p.CreateBlock(header())
	second := p.CreateBlock(header())
	assert.NotEqual(t, first, second)

	p.LoadMessage(second, row(md, "Bob", 0), header().DataSource[0].Item)
	assert.False(t, p.PushBlock(first))
	assert.True(t, p.PushBlock(second))

	// pushed and unknown handles are ignored
	assert.False(t, p.PushBlock(second))
	assert.Equal(t, 0, p.LoadMessage(second, row(md, "Carol", 0), header().DataSource[0].Item))
	assert.Equal(t, 0, p.LoadMessage(BlockID(42), row(md, "Carol", 0), header().DataSource[0].Item))
	assert.False(t, p.PushBlock(BlockID(-1)))

	assert.Equal(t, []string{"Bob"}, p.ToText())
}

func TestExtractor_OrderedJSON(t *testing.T) {
	md := messageDescriptor(t)
	p := stringTable(Options{Ordered: true})

	id := p.CreateBlock(header())
	p.LoadMessage(id, row1(md, "y"), &datasource.Item{File: "b.xlsx", Sheet: "S1"})
	p.LoadMessage(id, row1(md, "y"), &datasource.Item{File: "a.xlsx", Sheet: "S2"})
	p.LoadMessage(id, row1(md, "x"), &datasource.Item{File: "a.xlsx", Sheet: "S1"})
	p.LoadMessage(id, row1(md, "y"), &datasource.Item{File: "a.xlsx", Sheet: "S1"})
	require.True(t, p.PushBlock(id))

	first, err := Encode(p.ToJSON(), false)
	require.NoError(t, err)
	second, err := Encode(p.ToJSON(), false)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	want := `[{"body":[` +
		`{"x":{"source":[{"file":"a.xlsx","sheet":"S1"}]}},` +
		`{"y":{"source":[{"file":"a.xlsx","sheet":"S1"},{"file":"a.xlsx","sheet":"S2"},{"file":"b.xlsx","sheet":"S1"}]}}` +
		`],"head":{"count":2,"data_source":[{"count":2,"file":"a.xlsx","sheet":"S1"}],"data_ver":"1",` +
		`"description":"t","file_path":"m.bytes","hash_code":"abc","xres_ver":"1.0"}}]`
	assert.Equal(t, want, string(first))
}

func row1(md protoreflect.MessageDescriptor, name string) protoreflect.Message {
	return row(md, name, 0)
}

func TestExtractor_UnorderedJSON(t *testing.T) {
	md := messageDescriptor(t)
	p := stringTable(Options{})

	id := p.CreateBlock(header())
	p.LoadMessage(id, row1(md, "y"), &datasource.Item{File: "b.xlsx", Sheet: "S1"})
	p.LoadMessage(id, row1(md, "y"), &datasource.Item{File: "a.xlsx", Sheet: "S1"})
	require.True(t, p.PushBlock(id))

	data, err := Encode(p.ToJSON(), false)
	require.NoError(t, err)

	var docs []struct {
		Body map[string]struct {
			Source []map[string]string `json:"source"`
		} `json:"body"`
	}
	require.NoError(t, json.Unmarshal(data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, []map[string]string{
		{"file": "b.xlsx", "sheet": "S1"},
		{"file": "a.xlsx", "sheet": "S1"},
	}, docs[0].Body["y"].Source)
}

func TestHeadJSON(t *testing.T) {
	h := header()
	h.DataSource = []datasource.Sheet{
		datasource.NewSheet("b.xlsx", "S1", 0),
		datasource.NewSheet("a.xlsx", "S1", 3),
	}

	head := HeadJSON(h)
	sources := head["data_source"].([]any)
	require.Len(t, sources, 2)
	assert.Equal(t, map[string]any{"file": "a.xlsx", "sheet": "S1", "count": int32(3)}, sources[0])
	assert.Equal(t, map[string]any{"file": "b.xlsx", "sheet": "S1"}, sources[1])
	assert.Equal(t, uint32(2), head["count"])
}

func TestToText_AcrossBlocks(t *testing.T) {
	md := messageDescriptor(t)
	p := stringTable(Options{})
	src := header().DataSource[0].Item

	for _, names := range [][]string{{"b", "a"}, {"c", "a"}} {
		id := p.CreateBlock(header())
		for _, n := range names {
			p.LoadMessage(id, row1(md, n), src)
		}
		p.PushBlock(id)
	}

	assert.Equal(t, []string{"a", "b", "c"}, p.ToText())
	assert.Len(t, p.ToJSON(), 2)
}

func TestTaggedField_NonStringValues(t *testing.T) {
	md := messageDescriptor(t)
	p := NewTaggedField(Options{Filter: filter.NewPlain(nil)})
	assert.Equal(t, TaggedFieldName, p.Name())

	id := p.CreateBlock(header())
	p.LoadMessage(id, row(md, "Alice", 5), header().DataSource[0].Item)
	p.PushBlock(id)
	assert.Equal(t, []string{"5", "Alice"}, p.ToText())
}

func TestEncode(t *testing.T) {
	v := map[string]any{"b": "<&>", "a": []any{1}}

	compact, err := Encode(v, false)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1],"b":"<&>"}`, string(compact))

	pretty, err := Encode(v, true)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": [\n    1\n  ],\n  \"b\": \"<&>\"\n}", string(pretty))
}

func TestFlush(t *testing.T) {
	md := messageDescriptor(t)
	dir := t.TempDir()

	p := stringTable(Options{
		Ordered:  true,
		Pretty:   true,
		JSONFile: filepath.Join(dir, "st.json"),
		TextFile: filepath.Join(dir, "st.txt"),
	})
	id := p.CreateBlock(header())
	p.LoadMessage(id, row(md, "Bob", 0, "x"), header().DataSource[0].Item)
	p.PushBlock(id)

	require.NoError(t, p.Flush(p.Pretty()))

	text, err := os.ReadFile(filepath.Join(dir, "st.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Bob\nx\n", string(text))

	data, err := os.ReadFile(filepath.Join(dir, "st.json"))
	require.NoError(t, err)
	want, err := Encode(p.ToJSON(), true)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))

	t.Run("unwritable", func(t *testing.T) {
		bad := stringTable(Options{
			JSONFile: filepath.Join(dir, "missing", "st.json"),
			TextFile: filepath.Join(dir, "missing", "st.txt"),
		})
		err := bad.Flush(false)
		require.Error(t, err)
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeOutputFailed))
		assert.Equal(t, dumperr.ClassOutput, dumperr.ClassOf(err))
	})
}

func TestDescriptor(t *testing.T) {
	p := stringTable(Options{Ordered: true, JSONFile: "a.json"})
	assert.Equal(t, Descriptor{Name: StringTableName, Ordered: true, JSONFile: "a.json"}, p.Descriptor())
}
