// Package plugin provides the output plugins that aggregate values extracted
// from decoded rows and render them as JSON and text.
//
// # Core Concepts
//
// A Plugin owns a set of blocks, one per processed binary. Each block holds
// the binary's header and a body mapping every extracted value to the
// distinct (file, sheet) pairs that produced it.
//
// Blocks never leave the plugin. CreateBlock returns an opaque BlockID that
// the caller hands back to LoadMessage and PushBlock:
//
//	id := p.CreateBlock(header)
//	for _, row := range rows {
//	    p.LoadMessage(id, row, sheet.Item)
//	}
//	p.PushBlock(id)
//
// Pushed blocks with an empty body are discarded.
//
// # Built-in Plugins
//
// Two plugins are provided, both backed by Extractor:
//   - NewStringTable collects every string value
//   - NewTaggedField collects values of fields selected by xresloader
//     field_tag and oneof_tag options
//
// The selection is entirely controlled by the walker.Filter passed in
// Options.
//
// # Output
//
// ToJSON renders one document per retained block:
//
//	{"head": {...}, "body": ...}
//
// With Ordered set the body is an array of single-key objects sorted by
// value, and the sources of every value are sorted by file then sheet.
// Otherwise the body is an object keyed by value and sources keep the order
// they were first seen in. Object keys are always emitted in sorted order.
//
// ToText returns all distinct values across retained blocks, sorted.
//
// # Thread Safety
//
// Extractor is safe for concurrent use. Loading rows of different blocks
// from several goroutines is serialized by an internal mutex.
package plugin
