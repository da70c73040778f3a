package envelope

import (
	"embed"
	"fmt"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// File names and full names of the built-in schema. They match the files
// shipped with xresloader so that user descriptor sets bundling copies of
// them lose the registration conflict against these definitions.
const (
	HeaderFileName     = "pb_header_v3.proto"
	HeaderPackage      = "org.xresloader.pb"
	ExtensionsFileName = "xresloader.proto"
	ExtensionsPackage  = "org.xresloader"

	UEExtensionsFileName = "xresloader_ue.proto"
	UEExtensionsPackage  = "org.xresloader.ue"

	DataSourceMessage = HeaderPackage + ".xresloader_data_source"
	HeaderMessage     = HeaderPackage + ".xresloader_header"
	DatablocksMessage = HeaderPackage + ".xresloader_datablocks"
)

// Extension numbers of the xresloader custom options read by the tagged
// field filter. They are a versioned contract with xresloader.proto: the
// values are looked up by number in the options' unknown fields, so a
// renumbering upstream must be mirrored here.
const (
	FieldTagNumber protoreflect.FieldNumber = 1022
	OneofTagNumber protoreflect.FieldNumber = 1005
)

// protocolFS holds the xresloader option files as text format
// FileDescriptorProtos.
//
//go:embed protocol/*.prototext
var protocolFS embed.FS

var (
	headerFileProto       *descriptorpb.FileDescriptorProto
	extensionsFileProto   *descriptorpb.FileDescriptorProto
	ueExtensionsFileProto *descriptorpb.FileDescriptorProto

	headerFile       protoreflect.FileDescriptor
	extensionsFile   protoreflect.FileDescriptor
	ueExtensionsFile protoreflect.FileDescriptor

	datablocksDesc protoreflect.MessageDescriptor
	headerDesc     protoreflect.MessageDescriptor
	dataSourceDesc protoreflect.MessageDescriptor
)

func init() {
	headerFileProto = buildHeaderFileProto()
	extensionsFileProto = mustLoadFileProto("protocol/xresloader.prototext")
	ueExtensionsFileProto = mustLoadFileProto("protocol/xresloader_ue.prototext")

	headerFile = mustNewFile(headerFileProto)
	extensionsFile = mustNewFile(extensionsFileProto)
	ueExtensionsFile = mustNewFile(ueExtensionsFileProto)

	mustHaveExtension(extensionsFile, "field_tag", FieldTagNumber)
	mustHaveExtension(extensionsFile, "oneof_tag", OneofTagNumber)

	msgs := headerFile.Messages()
	dataSourceDesc = msgs.ByName("xresloader_data_source")
	headerDesc = msgs.ByName("xresloader_header")
	datablocksDesc = msgs.ByName("xresloader_datablocks")
}

func mustLoadFileProto(path string) *descriptorpb.FileDescriptorProto {
	data, err := protocolFS.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("envelope: read %s: %v", path, err))
	}
	fd := &descriptorpb.FileDescriptorProto{}
	if err := prototext.Unmarshal(data, fd); err != nil {
		panic(fmt.Sprintf("envelope: parse %s: %v", path, err))
	}
	return fd
}

// mustNewFile builds a built-in file. Built-in files depend on
// descriptor.proto at most.
func mustNewFile(fd *descriptorpb.FileDescriptorProto) protoreflect.FileDescriptor {
	f, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("envelope: build %s: %v", fd.GetName(), err))
	}
	return f
}

func mustHaveExtension(f protoreflect.FileDescriptor, name protoreflect.Name, num protoreflect.FieldNumber) {
	xd := f.Extensions().ByName(name)
	if xd == nil || xd.Number() != num || xd.Kind() != protoreflect.StringKind || !xd.IsList() {
		panic(fmt.Sprintf("envelope: %s must declare repeated string %s = %d", f.Path(), name, num))
	}
}

// HeaderFileProto returns a copy of the pb_header_v3.proto descriptor proto.
func HeaderFileProto() *descriptorpb.FileDescriptorProto {
	return proto.Clone(headerFileProto).(*descriptorpb.FileDescriptorProto)
}

// ExtensionsFileProto returns a copy of the xresloader.proto descriptor proto.
func ExtensionsFileProto() *descriptorpb.FileDescriptorProto {
	return proto.Clone(extensionsFileProto).(*descriptorpb.FileDescriptorProto)
}

// UEExtensionsFileProto returns a copy of the xresloader_ue.proto descriptor proto.
func UEExtensionsFileProto() *descriptorpb.FileDescriptorProto {
	return proto.Clone(ueExtensionsFileProto).(*descriptorpb.FileDescriptorProto)
}

// HeaderFile returns the live descriptor of pb_header_v3.proto.
func HeaderFile() protoreflect.FileDescriptor { return headerFile }

// ExtensionsFile returns the live descriptor of xresloader.proto.
func ExtensionsFile() protoreflect.FileDescriptor { return extensionsFile }

// UEExtensionsFile returns the live descriptor of xresloader_ue.proto.
func UEExtensionsFile() protoreflect.FileDescriptor { return ueExtensionsFile }

// DatablocksDescriptor returns the descriptor of the envelope message.
func DatablocksDescriptor() protoreflect.MessageDescriptor { return datablocksDesc }

func buildHeaderFileProto() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	repeated := descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()

	field := func(name, jsonName string, number int32, label *descriptorpb.FieldDescriptorProto_Label,
		typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
		fd := &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(jsonName),
			Number:   proto.Int32(number),
			Label:    label,
			Type:     typ.Enum(),
		}
		if typeName != "" {
			fd.TypeName = proto.String(typeName)
		}
		return fd
	}

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(HeaderFileName),
		Package: proto.String(HeaderPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("xresloader_data_source"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("file", "file", 1, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("sheet", "sheet", 2, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("count", "count", 3, optional, descriptorpb.FieldDescriptorProto_TYPE_INT32, ""),
				},
			},
			{
				Name: proto.String("xresloader_header"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("xres_ver", "xresVer", 1, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("data_ver", "dataVer", 2, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("count", "count", 3, optional, descriptorpb.FieldDescriptorProto_TYPE_UINT32, ""),
					field("hash_code", "hashCode", 4, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("description", "description", 5, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
					field("data_source", "dataSource", 11, repeated, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, "."+DataSourceMessage),
				},
			},
			{
				Name: proto.String("xresloader_datablocks"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("header", "header", 1, optional, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, "."+HeaderMessage),
					field("data_block", "dataBlock", 2, repeated, descriptorpb.FieldDescriptorProto_TYPE_BYTES, ""),
					field("data_message_type", "dataMessageType", 3, optional, descriptorpb.FieldDescriptorProto_TYPE_STRING, ""),
				},
			},
		},
	}
}
