// Package envelope describes the xresloader data block binary: the built-in
// header schema, the tag extensions and a codec between the wire format and
// plain Go structs.
//
// The schema is declared as descriptor protos and materialized with
// protodesc at package initialization, so no generated code is needed to
// read or write envelopes; messages are handled through dynamicpb.
package envelope

import (
	"fmt"

	"github.com/zero-day-ai/xresdump/datasource"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// DataSource is one (file, sheet, count) provenance entry of a header.
type DataSource struct {
	File  string
	Sheet string
	Count int32
}

// Header is the metadata block of an envelope.
type Header struct {
	XresVer     string
	DataVer     string
	Count       uint32
	HashCode    string
	Description string
	DataSource  []DataSource
}

// Envelope is a decoded xresloader_datablocks message.
type Envelope struct {
	Header          Header
	DataBlocks      [][]byte
	DataMessageType string
}

// Decode parses an xresloader_datablocks binary.
func Decode(data []byte) (*Envelope, error) {
	msg := dynamicpb.NewMessage(datablocksDesc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", DatablocksMessage, err)
	}

	env := &Envelope{
		DataMessageType: msg.Get(field(datablocksDesc, "data_message_type")).String(),
	}

	blocks := msg.Get(field(datablocksDesc, "data_block")).List()
	env.DataBlocks = make([][]byte, 0, blocks.Len())
	for i := 0; i < blocks.Len(); i++ {
		env.DataBlocks = append(env.DataBlocks, blocks.Get(i).Bytes())
	}

	headerField := field(datablocksDesc, "header")
	if msg.Has(headerField) {
		env.Header = decodeHeader(msg.Get(headerField).Message())
	}

	return env, nil
}

func decodeHeader(m protoreflect.Message) Header {
	h := Header{
		XresVer:     m.Get(field(headerDesc, "xres_ver")).String(),
		DataVer:     m.Get(field(headerDesc, "data_ver")).String(),
		Count:       uint32(m.Get(field(headerDesc, "count")).Uint()),
		HashCode:    m.Get(field(headerDesc, "hash_code")).String(),
		Description: m.Get(field(headerDesc, "description")).String(),
	}

	sources := m.Get(field(headerDesc, "data_source")).List()
	for i := 0; i < sources.Len(); i++ {
		s := sources.Get(i).Message()
		h.DataSource = append(h.DataSource, DataSource{
			File:  s.Get(field(dataSourceDesc, "file")).String(),
			Sheet: s.Get(field(dataSourceDesc, "sheet")).String(),
			Count: int32(s.Get(field(dataSourceDesc, "count")).Int()),
		})
	}
	return h
}

// Encode serializes the envelope to the xresloader_datablocks wire format.
func (e *Envelope) Encode() ([]byte, error) {
	msg := dynamicpb.NewMessage(datablocksDesc)

	header := msg.Mutable(field(datablocksDesc, "header")).Message()
	header.Set(field(headerDesc, "xres_ver"), protoreflect.ValueOfString(e.Header.XresVer))
	header.Set(field(headerDesc, "data_ver"), protoreflect.ValueOfString(e.Header.DataVer))
	header.Set(field(headerDesc, "count"), protoreflect.ValueOfUint32(e.Header.Count))
	header.Set(field(headerDesc, "hash_code"), protoreflect.ValueOfString(e.Header.HashCode))
	header.Set(field(headerDesc, "description"), protoreflect.ValueOfString(e.Header.Description))

	sources := header.Mutable(field(headerDesc, "data_source")).List()
	for _, ds := range e.Header.DataSource {
		s := sources.NewElement().Message()
		s.Set(field(dataSourceDesc, "file"), protoreflect.ValueOfString(ds.File))
		s.Set(field(dataSourceDesc, "sheet"), protoreflect.ValueOfString(ds.Sheet))
		s.Set(field(dataSourceDesc, "count"), protoreflect.ValueOfInt32(ds.Count))
		sources.Append(protoreflect.ValueOfMessage(s))
	}

	blocks := msg.Mutable(field(datablocksDesc, "data_block")).List()
	for _, b := range e.DataBlocks {
		blocks.Append(protoreflect.ValueOfBytes(b))
	}

	if e.DataMessageType != "" {
		msg.Set(field(datablocksDesc, "data_message_type"), protoreflect.ValueOfString(e.DataMessageType))
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", DatablocksMessage, err)
	}
	return data, nil
}

// Block converts the header into the provenance block of the binary at path.
func (e *Envelope) Block(path string) *datasource.Block {
	b := &datasource.Block{
		XresVer:     e.Header.XresVer,
		DataVer:     e.Header.DataVer,
		FilePath:    path,
		Count:       e.Header.Count,
		HashCode:    e.Header.HashCode,
		Description: e.Header.Description,
	}
	for _, ds := range e.Header.DataSource {
		b.DataSource = append(b.DataSource, datasource.NewSheet(ds.File, ds.Sheet, ds.Count))
	}
	return b
}

func field(md protoreflect.MessageDescriptor, name protoreflect.Name) protoreflect.FieldDescriptor {
	return md.Fields().ByName(name)
}
