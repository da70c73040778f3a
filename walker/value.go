package walker

import (
	"strconv"
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = iota
	// KindMessage holds a nested message.
	KindMessage
	// KindString holds a string field.
	KindString
	// KindInt holds any signed integer field, widened to int64.
	KindInt
	// KindUint holds any unsigned integer field, widened to uint64.
	KindUint
	// KindFloat holds a float or double field.
	KindFloat
	// KindBool holds a bool field.
	KindBool
	// KindEnum holds an enum number with its enum type.
	KindEnum
	// KindBytes holds a bytes field.
	KindBytes
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindMessage: "message",
	KindString:  "string",
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindBool:    "bool",
	KindEnum:    "enum",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one reflective field value. Exactly the fields matching Kind are
// meaningful.
type Value struct {
	kind Kind

	msg   protoreflect.Message
	str   string
	i     int64
	u     uint64
	f     float64
	bits  int
	b     bool
	enum  protoreflect.EnumDescriptor
	num   protoreflect.EnumNumber
	bytes []byte
}

// MessageValue wraps a nested message.
func MessageValue(m protoreflect.Message) Value { return Value{kind: KindMessage, msg: m} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue wraps a signed integer of any width.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// UintValue wraps an unsigned integer of any width.
func UintValue(u uint64) Value { return Value{kind: KindUint, u: u} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// BytesValue wraps a byte slice. The slice is not copied.
func BytesValue(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// FloatValue wraps a float read from a field of the given bit size (32 or 64).
func FloatValue(f float64, bits int) Value {
	return Value{kind: KindFloat, f: f, bits: bits}
}

// EnumValue wraps an enum number together with its enum type.
func EnumValue(ed protoreflect.EnumDescriptor, n protoreflect.EnumNumber) Value {
	return Value{kind: KindEnum, enum: ed, num: n}
}

// ValueOf converts a protoreflect value read through fd. For map fields pass
// fd.MapKey() or fd.MapValue().
func ValueOf(fd protoreflect.FieldDescriptor, v protoreflect.Value) Value {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return MessageValue(v.Message())
	case protoreflect.StringKind:
		return StringValue(v.String())
	case protoreflect.BytesKind:
		return BytesValue(v.Bytes())
	case protoreflect.BoolKind:
		return BoolValue(v.Bool())
	case protoreflect.EnumKind:
		return EnumValue(fd.Enum(), v.Enum())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return IntValue(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return UintValue(v.Uint())
	case protoreflect.FloatKind:
		return FloatValue(v.Float(), 32)
	case protoreflect.DoubleKind:
		return FloatValue(v.Float(), 64)
	default:
		return Value{}
	}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Message returns the message of a KindMessage value, nil otherwise.
func (v Value) Message() protoreflect.Message { return v.msg }

// String returns the canonical text form of a scalar value:
//   - integers in decimal
//   - floats in their shortest round-trip form
//   - booleans as "true" or "false"
//   - enums as "<enum full name>.<value name>", or the number when undefined
//   - bytes as a list of decimal octets, e.g. "[1, 2, 3]"
//
// Messages render as an empty string.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, v.bits)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindEnum:
		if ev := v.enum.Values().ByNumber(v.num); ev != nil {
			return string(v.enum.FullName()) + "." + string(ev.Name())
		}
		return strconv.FormatInt(int64(v.num), 10)
	case KindBytes:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, c := range v.bytes {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(strconv.Itoa(int(c)))
		}
		sb.WriteByte(']')
		return sb.String()
	default:
		return ""
	}
}
