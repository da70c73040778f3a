// Package filter implements the predicates that select which messages,
// fields and values are extracted from decoded rows.
//
// Two filters share the Rules type: Plain, driven only by value regexes and
// path lists, and Tagged, which additionally requires fields to carry an
// xresloader field_tag or oneof_tag option.
package filter

import (
	"github.com/zero-day-ai/xresdump/walker"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Plain filters by value regexes and field/message path lists.
type Plain struct {
	rules *Rules
	kinds map[walker.Kind]struct{}
}

var _ walker.Filter = (*Plain)(nil)

// PlainOption configures a Plain filter.
type PlainOption func(*Plain)

// WithKinds restricts accepted values to the given kinds.
func WithKinds(kinds ...walker.Kind) PlainOption {
	return func(p *Plain) {
		p.kinds = make(map[walker.Kind]struct{}, len(kinds))
		for _, k := range kinds {
			p.kinds[k] = struct{}{}
		}
	}
}

// NewPlain creates a plain filter. A nil rules accepts everything non-blank.
func NewPlain(rules *Rules, opts ...PlainOption) *Plain {
	if rules == nil {
		rules = &Rules{}
	}
	p := &Plain{rules: rules}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plain) AcceptMessage(md protoreflect.MessageDescriptor) bool {
	return p.rules.AcceptMessagePath(string(md.FullName()))
}

func (p *Plain) AcceptField(fd protoreflect.FieldDescriptor) bool {
	return p.rules.AcceptFieldPath(string(fd.FullName()))
}

func (p *Plain) AcceptValue(v walker.Value) bool {
	if p.kinds != nil {
		if _, ok := p.kinds[v.Kind()]; !ok {
			return false
		}
	}
	return p.rules.AcceptValue(v.String())
}
