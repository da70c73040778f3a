package descindex

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zero-day-ai/xresdump/dumperr"
	"github.com/zero-day-ai/xresdump/envelope"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func stringField(name string, number int32, repeated bool) *descriptorpb.FieldDescriptorProto {
	label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	if repeated {
		label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
	}
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  label.Enum(),
		Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
	}
}

func enumProto(name string, values ...string) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for i, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v),
			Number: proto.Int32(int32(i)),
		})
	}
	return e
}

func fileProto(name, pkg string, deps []string, msgs ...*descriptorpb.DescriptorProto) *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:        proto.String(name),
		Package:     proto.String(pkg),
		Syntax:      proto.String("proto3"),
		Dependency:  deps,
		MessageType: msgs,
	}
}

func demoFile() *descriptorpb.FileDescriptorProto {
	fd := fileProto("demo.proto", "demo", nil,
		&descriptorpb.DescriptorProto{
			Name: proto.String("M"),
			Field: []*descriptorpb.FieldDescriptorProto{
				stringField("name", 1, false),
				stringField("tags", 2, true),
			},
		},
		&descriptorpb.DescriptorProto{
			Name: proto.String("Outer"),
			NestedType: []*descriptorpb.DescriptorProto{
				{Name: proto.String("Inner"), Field: []*descriptorpb.FieldDescriptorProto{stringField("v", 1, false)}},
			},
			EnumType: []*descriptorpb.EnumDescriptorProto{enumProto("Kind", "KIND_NONE", "KIND_A")},
		},
	)
	fd.EnumType = []*descriptorpb.EnumDescriptorProto{enumProto("Color", "COLOR_NONE", "COLOR_RED")}
	return fd
}

func TestNew_Builtins(t *testing.T) {
	x := New(quiet())

	tests := []struct {
		name string
		file string
	}{
		{"descriptor", "google/protobuf/descriptor.proto"},
		{"timestamp", "google/protobuf/timestamp.proto"},
		{"wrappers", "google/protobuf/wrappers.proto"},
		{"header", envelope.HeaderFileName},
		{"extensions", envelope.ExtensionsFileName},
		{"ue extensions", envelope.UEExtensionsFileName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin, internal, ok := x.Origin(tt.file)
			require.True(t, ok)
			assert.True(t, internal)
			assert.Equal(t, tt.file, origin)
		})
	}

	md, err := x.ResolveMessage("google.protobuf.Timestamp")
	require.NoError(t, err)
	assert.True(t, md == (&timestamppb.Timestamp{}).ProtoReflect().Descriptor())

	md, err = x.ResolveMessage("." + envelope.DatablocksMessage)
	require.NoError(t, err)
	assert.True(t, md == envelope.DatablocksDescriptor())
}

func TestRegister_Resolve(t *testing.T) {
	x := New(quiet())
	require.NoError(t, x.Register(demoFile(), "demo.pb"))

	t.Run("cached identity", func(t *testing.T) {
		a, err := x.ResolveMessage("demo.M")
		require.NoError(t, err)
		b, err := x.ResolveMessage(".demo.M")
		require.NoError(t, err)
		assert.True(t, a == b)
		assert.Equal(t, protoreflect.FullName("demo.M"), a.FullName())
		assert.Equal(t, 2, a.Fields().Len())
	})

	t.Run("nested message", func(t *testing.T) {
		md, err := x.ResolveMessage("demo.Outer.Inner")
		require.NoError(t, err)
		assert.Equal(t, protoreflect.FullName("demo.Outer.Inner"), md.FullName())
	})

	t.Run("enums", func(t *testing.T) {
		ed, err := x.ResolveEnum("demo.Color")
		require.NoError(t, err)
		assert.Equal(t, 2, ed.Values().Len())

		ed, err = x.ResolveEnum("demo.Outer.Kind")
		require.NoError(t, err)
		assert.Equal(t, protoreflect.FullName("demo.Outer.Kind"), ed.FullName())
	})

	t.Run("file identity", func(t *testing.T) {
		a, err := x.ResolveFile("demo.proto")
		require.NoError(t, err)
		b, err := x.ResolveFile("demo.proto")
		require.NoError(t, err)
		assert.True(t, a == b)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := x.ResolveMessage("demo.Missing")
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeNotFound))

		_, err = x.ResolveEnum("demo.Missing")
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeNotFound))

		_, err = x.ResolveFile("missing.proto")
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeNotFound))
	})

	assert.Contains(t, x.Messages(), "demo.Outer.Inner")
	assert.Contains(t, x.Enums(), "demo.Outer.Kind")
	assert.Contains(t, x.Files(), "demo.proto")
}

func TestRegister_Duplicates(t *testing.T) {
	t.Run("duplicate file is a no-op", func(t *testing.T) {
		var buf bytes.Buffer
		x := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
		require.NoError(t, x.Register(demoFile(), "first.pb"))
		messages := x.Messages()

		other := demoFile()
		other.MessageType = append(other.MessageType, &descriptorpb.DescriptorProto{Name: proto.String("Extra")})
		err := x.Register(other, "second.pb")

		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeDuplicateDefinition))
		assert.Equal(t, messages, x.Messages())
		origin, _, _ := x.Origin("demo.proto")
		assert.Equal(t, "first.pb", origin)
		assert.Contains(t, buf.String(), "already defined")
	})

	t.Run("first message wins", func(t *testing.T) {
		x := New(quiet())
		require.NoError(t, x.Register(demoFile(), "first.pb"))

		other := fileProto("other.proto", "demo", nil,
			&descriptorpb.DescriptorProto{Name: proto.String("M")},
			&descriptorpb.DescriptorProto{Name: proto.String("N")},
		)
		err := x.Register(other, "second.pb")
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeDuplicateDefinition))

		md, err := x.ResolveMessage("demo.M")
		require.NoError(t, err)
		assert.Equal(t, "demo.proto", md.ParentFile().Path())

		md, err = x.ResolveMessage("demo.N")
		require.NoError(t, err)
		assert.Equal(t, "other.proto", md.ParentFile().Path())
	})

	t.Run("user copy of built-in loses", func(t *testing.T) {
		x := New(quiet())
		err := x.Register(envelope.ExtensionsFileProto(), "user.pb")
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeDuplicateDefinition))

		fd, err := x.ResolveFile(envelope.ExtensionsFileName)
		require.NoError(t, err)
		assert.True(t, fd == envelope.ExtensionsFile())
	})
}

func TestResolve_XresloaderImports(t *testing.T) {
	x := New(quiet())

	item := fileProto("item.proto", "game",
		[]string{envelope.ExtensionsFileName, envelope.UEExtensionsFileName},
		&descriptorpb.DescriptorProto{
			Name:  proto.String("Item"),
			Field: []*descriptorpb.FieldDescriptorProto{stringField("name", 1, false)},
		},
	)
	require.NoError(t, x.Register(item, "item.pb"))

	md, err := x.ResolveMessage("game.Item")
	require.NoError(t, err)
	assert.Equal(t, protoreflect.FullName("game.Item"), md.FullName())

	imports := md.ParentFile().Imports()
	require.Equal(t, 2, imports.Len())
	assert.True(t, imports.Get(0).FileDescriptor == envelope.ExtensionsFile())
	assert.True(t, imports.Get(1).FileDescriptor == envelope.UEExtensionsFile())

	assert.Contains(t, x.Files(), envelope.UEExtensionsFileName)
}

func TestRegisterSet(t *testing.T) {
	x := New(quiet())
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{
		demoFile(),
		fileProto("b.proto", "b", nil, &descriptorpb.DescriptorProto{Name: proto.String("B")}),
	}}
	require.NoError(t, x.RegisterSet(set, "all.pb"))

	for _, name := range []string{"demo.proto", "b.proto"} {
		origin, internal, ok := x.Origin(name)
		require.True(t, ok)
		assert.False(t, internal)
		assert.Equal(t, "all.pb", origin)
	}
}

func TestResolveFile_Dependencies(t *testing.T) {
	t.Run("registered out of order", func(t *testing.T) {
		x := New(quiet())
		user := fileProto("user.proto", "app", []string{"base.proto", "google/protobuf/timestamp.proto"},
			&descriptorpb.DescriptorProto{
				Name: proto.String("User"),
				Field: []*descriptorpb.FieldDescriptorProto{
					messageField("base", 1, ".app.Base"),
					messageField("created", 2, ".google.protobuf.Timestamp"),
				},
			},
		)
		base := fileProto("base.proto", "app", nil,
			&descriptorpb.DescriptorProto{Name: proto.String("Base"), Field: []*descriptorpb.FieldDescriptorProto{stringField("id", 1, false)}},
		)
		require.NoError(t, x.Register(user, "u.pb"))
		require.NoError(t, x.Register(base, "b.pb"))

		md, err := x.ResolveMessage("app.User")
		require.NoError(t, err)

		baseDesc, err := x.ResolveMessage("app.Base")
		require.NoError(t, err)
		assert.True(t, md.Fields().ByName("base").Message() == baseDesc)
		assert.True(t, md.Fields().ByName("created").Message() == (&timestamppb.Timestamp{}).ProtoReflect().Descriptor())
	})

	t.Run("cycle", func(t *testing.T) {
		x := New(quiet())
		require.NoError(t, x.Register(fileProto("a.proto", "a", []string{"b.proto"}), "a.pb"))
		require.NoError(t, x.Register(fileProto("b.proto", "b", []string{"a.proto"}), "b.pb"))

		for i := 0; i < 2; i++ {
			_, err := x.ResolveFile("a.proto")
			require.Error(t, err)
			assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeCyclicDependency))
			assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeDependencyFailed))
			assert.Contains(t, err.Error(), "a.proto -> b.proto -> a.proto")
		}
	})

	t.Run("missing dependency", func(t *testing.T) {
		x := New(quiet())
		require.NoError(t, x.Register(fileProto("c.proto", "c", []string{"missing.proto"},
			&descriptorpb.DescriptorProto{Name: proto.String("C")}), "c.pb"))

		_, err := x.ResolveMessage("c.C")
		require.Error(t, err)
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeDependencyFailed))
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeNotFound))
	})

	t.Run("unresolvable type", func(t *testing.T) {
		x := New(quiet())
		require.NoError(t, x.Register(fileProto("d.proto", "d", nil,
			&descriptorpb.DescriptorProto{
				Name:  proto.String("D"),
				Field: []*descriptorpb.FieldDescriptorProto{messageField("x", 1, ".d.Unknown")},
			}), "d.pb"))

		_, err := x.ResolveFile("d.proto")
		require.Error(t, err)
		assert.True(t, dumperr.HasCode(err, dumperr.ErrCodeBuildFailed))
		assert.Equal(t, dumperr.ClassSchema, dumperr.ClassOf(err))
	})
}
