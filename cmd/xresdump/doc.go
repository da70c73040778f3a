// Command xresdump prints and extracts the content of xresloader data block
// binaries.
//
// # Usage
//
//	xresdump -p protocol.pb [flags] <bin files...>
//
// Every binary names its row message type in its header. The type is
// resolved against the descriptor sets given with --pb-file (produced by
// protoc -o), each row is decoded and printed as JSON or, with --plain, in
// protobuf text format.
//
// # Extraction
//
// Two extraction plugins run while rows are decoded:
//
//   - string table: every distinct string value, with the (file, sheet)
//     sources it came from
//   - tagged data: values of fields carrying an org.xresloader.field_tag, or
//     belonging to a oneof carrying an org.xresloader.oneof_tag
//
// A plugin is enabled by giving it a JSON or text output file. Values,
// fields and messages can be narrowed with regex rules and path list files:
//
//	xresdump -p protocol.pb --silence \
//		--output-string-table-json strings.json \
//		--string-table-exclude-value-regex-rule '^\d+$' \
//		data/*.bytes
//
// # Configuration
//
// All settings can be given in a YAML file with --config, either the file
// itself or a directory holding xresdump.yaml:
//
//	pb_files: [protocol.pb]
//	bin_files: [data/item.bytes]
//	silence: true
//	tagged_data:
//	  output_text: tagged.txt
//	  field_tags: [i18n]
//
// Flags given on the command line override the file.
//
// The command exits with status 1 when any descriptor set, binary, row,
// rule or output file failed.
package main
