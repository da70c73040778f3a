package filter

import (
	"sync"
	"unicode/utf8"

	"github.com/zero-day-ai/xresdump/envelope"
	"github.com/zero-day-ai/xresdump/walker"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Tagged accepts only fields carrying one of the selected field tags, or
// belonging to a oneof carrying one of the selected oneof tags. The path and
// value rules apply on top of tag selection.
//
// Field and oneof classifications depend only on the schema and are cached
// by full name for the lifetime of the filter.
type Tagged struct {
	rules     *Rules
	fieldTags map[string]struct{}
	oneofTags map[string]struct{}

	mu         sync.Mutex
	fieldWhite map[protoreflect.FullName]struct{}
	fieldBlack map[protoreflect.FullName]struct{}
	oneofWhite map[protoreflect.FullName]struct{}
	oneofBlack map[protoreflect.FullName]struct{}
}

var _ walker.Filter = (*Tagged)(nil)

// NewTagged creates a tagged filter. With no field tags and no oneof tags it
// accepts no field.
func NewTagged(rules *Rules, fieldTags, oneofTags []string) *Tagged {
	if rules == nil {
		rules = &Rules{}
	}
	return &Tagged{
		rules:      rules,
		fieldTags:  toSet(fieldTags),
		oneofTags:  toSet(oneofTags),
		fieldWhite: make(map[protoreflect.FullName]struct{}),
		fieldBlack: make(map[protoreflect.FullName]struct{}),
		oneofWhite: make(map[protoreflect.FullName]struct{}),
		oneofBlack: make(map[protoreflect.FullName]struct{}),
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (t *Tagged) AcceptMessage(md protoreflect.MessageDescriptor) bool {
	return t.rules.AcceptMessagePath(string(md.FullName()))
}

func (t *Tagged) AcceptValue(v walker.Value) bool {
	return t.rules.AcceptValue(v.String())
}

func (t *Tagged) AcceptField(fd protoreflect.FieldDescriptor) bool {
	name := fd.FullName()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.fieldBlack[name]; ok {
		return false
	}
	if _, ok := t.fieldWhite[name]; ok {
		return true
	}

	ok := t.classifyField(fd)
	if ok {
		t.fieldWhite[name] = struct{}{}
	} else {
		t.fieldBlack[name] = struct{}{}
	}
	return ok
}

func (t *Tagged) classifyField(fd protoreflect.FieldDescriptor) bool {
	if len(t.fieldTags) == 0 && len(t.oneofTags) == 0 {
		return false
	}

	tagged := containsAny(t.fieldTags, FieldTags(fd))
	if !tagged && len(t.oneofTags) > 0 {
		if od := fd.ContainingOneof(); od != nil {
			tagged = t.classifyOneof(od)
		}
	}
	if !tagged {
		return false
	}

	return t.rules.AcceptFieldPath(string(fd.FullName()))
}

func (t *Tagged) classifyOneof(od protoreflect.OneofDescriptor) bool {
	name := od.FullName()
	if _, ok := t.oneofWhite[name]; ok {
		return true
	}
	if _, ok := t.oneofBlack[name]; ok {
		return false
	}

	ok := containsAny(t.oneofTags, OneofTags(od))
	if ok {
		t.oneofWhite[name] = struct{}{}
	} else {
		t.oneofBlack[name] = struct{}{}
	}
	return ok
}

func containsAny(set map[string]struct{}, values []string) bool {
	for _, v := range values {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// FieldTags returns the org.xresloader.field_tag values of a field.
func FieldTags(fd protoreflect.FieldDescriptor) []string {
	opts, ok := fd.Options().(*descriptorpb.FieldOptions)
	if !ok || opts == nil {
		return nil
	}
	return readTags(opts.ProtoReflect(), envelope.FieldTagNumber)
}

// OneofTags returns the org.xresloader.oneof_tag values of a oneof.
func OneofTags(od protoreflect.OneofDescriptor) []string {
	opts, ok := od.Options().(*descriptorpb.OneofOptions)
	if !ok || opts == nil {
		return nil
	}
	return readTags(opts.ProtoReflect(), envelope.OneofTagNumber)
}

// readTags collects the string values of extension number num. Descriptor
// sets are parsed without the xresloader extension types registered, so the
// values normally live in the unknown fields; options whose extension type
// was resolved are read through Range instead. Values that are not valid
// UTF-8 are dropped.
func readTags(m protoreflect.Message, num protoreflect.FieldNumber) []string {
	var tags []string

	b := m.GetUnknown()
	for len(b) > 0 {
		n, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			break
		}
		b = b[l:]

		if n == num && typ == protowire.BytesType {
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				break
			}
			if utf8.Valid(v) {
				tags = append(tags, string(v))
			}
			b = b[l:]
			continue
		}

		l = protowire.ConsumeFieldValue(n, typ, b)
		if l < 0 {
			break
		}
		b = b[l:]
	}

	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if !fd.IsExtension() || fd.Number() != num || fd.Kind() != protoreflect.StringKind {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				tags = append(tags, list.Get(i).String())
			}
		} else {
			tags = append(tags, v.String())
		}
		return true
	})

	return tags
}
