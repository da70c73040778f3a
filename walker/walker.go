// Package walker traverses decoded messages reflectively and routes the
// canonical string form of every eligible scalar to a sink.
//
// Walk recurses into nested messages found in singular, repeated and map
// fields. Recursion follows the instance tree with ordinary calls, so depth
// is bounded by the goroutine stack only.
package walker

import (
	"github.com/zero-day-ai/xresdump/datasource"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Filter decides what the walker visits and emits.
type Filter interface {
	// AcceptMessage reports whether a message of this type is walked at all.
	AcceptMessage(md protoreflect.MessageDescriptor) bool

	// AcceptField reports whether scalar values of a field are eligible.
	// For map fields the map field itself is passed.
	AcceptField(fd protoreflect.FieldDescriptor) bool

	// AcceptValue reports whether a scalar value is emitted.
	AcceptValue(v Value) bool
}

// Sink receives accepted values with the provenance of the row they came from.
type Sink interface {
	Add(value string, src *datasource.Item)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(value string, src *datasource.Item)

func (fn SinkFunc) Add(value string, src *datasource.Item) { fn(value, src) }

// Walk visits msg with f and routes accepted values to sink tagged with src.
func Walk(msg protoreflect.Message, f Filter, src *datasource.Item, sink Sink) {
	md := msg.Descriptor()
	if !f.AcceptMessage(md) {
		return
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)

		switch {
		case fd.IsMap():
			keyDesc, valDesc := fd.MapKey(), fd.MapValue()
			msg.Get(fd).Map().Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
				visit(fd, ValueOf(keyDesc, k.Value()), f, src, sink)
				visit(fd, ValueOf(valDesc, v), f, src, sink)
				return true
			})

		case fd.IsList():
			if !f.AcceptField(fd) {
				continue
			}
			list := msg.Get(fd).List()
			for j := 0; j < list.Len(); j++ {
				visit(fd, ValueOf(fd, list.Get(j)), f, src, sink)
			}

		default:
			if !msg.Has(fd) {
				continue
			}
			visit(fd, ValueOf(fd, msg.Get(fd)), f, src, sink)
		}
	}
}

func visit(fd protoreflect.FieldDescriptor, v Value, f Filter, src *datasource.Item, sink Sink) {
	if v.Kind() == KindMessage {
		Walk(v.Message(), f, src, sink)
		return
	}
	if v.Kind() == KindInvalid || !f.AcceptField(fd) || !f.AcceptValue(v) {
		return
	}
	sink.Add(v.String(), src)
}
