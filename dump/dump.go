// Package dump drives one run of the dump tool. A Dumper loads descriptor
// sets into a descriptor index, decodes every data block binary against it,
// prints headers and rows, feeds the enabled extraction plugins and finally
// flushes their output files.
//
// Failures never stop a run early. Each one is logged, recorded in the
// Result and turns the run into a failed one; the next binary, row or plugin
// is processed as usual.
package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/zero-day-ai/xresdump/config"
	"github.com/zero-day-ai/xresdump/datasource"
	"github.com/zero-day-ai/xresdump/descindex"
	"github.com/zero-day-ai/xresdump/dumperr"
	"github.com/zero-day-ai/xresdump/envelope"
	"github.com/zero-day-ai/xresdump/filter"
	"github.com/zero-day-ai/xresdump/plugin"
	"github.com/zero-day-ai/xresdump/walker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const component = "dump"

// Instrumentation names.
const (
	InstrumentationName = "github.com/zero-day-ai/xresdump"

	SpanLoadDescriptorSet = "xresdump.load_descriptor_set"
	SpanProcessBinary     = "xresdump.process_binary"

	MetricRows   = "xresdump.rows"
	MetricValues = "xresdump.values"
)

// Result summarizes a run.
type Result struct {
	// Binaries is the number of binaries whose rows were iterated.
	Binaries int

	// Rows is the number of rows decoded successfully.
	Rows int

	// FailedRows is the number of rows that could not be decoded.
	FailedRows int

	// Failed is set once any error is recorded.
	Failed bool

	// Errors holds every recorded failure in order.
	Errors []error

	// Warnings holds problems that do not fail the run, such as duplicate
	// descriptor definitions.
	Warnings []error
}

// Err joins every recorded error, nil when the run succeeded.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Dumper runs the dump pipeline over a configuration. It is not safe for
// concurrent use.
type Dumper struct {
	cfg      *config.Config
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	out      io.Writer
	index    *descindex.Index
	readFile func(path string) ([]byte, error)

	plugins []plugin.Plugin
	rows    metric.Int64Counter
	values  metric.Int64Counter

	result Result
}

// New creates a Dumper for cfg and builds the enabled plugins. Filter rules
// that cannot be loaded are recorded in the result and the plugin is still
// built from the remaining rules. The returned error only reports failures
// to set up instrumentation.
func New(cfg *config.Config, opts ...Option) (*Dumper, error) {
	d := &Dumper{
		cfg:      cfg,
		out:      os.Stdout,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	d.logger = d.logger.With("run_id", uuid.NewString())
	if d.tracer == nil {
		d.tracer = tracenoop.NewTracerProvider().Tracer(InstrumentationName)
	}
	if d.meter == nil {
		d.meter = metricnoop.NewMeterProvider().Meter(InstrumentationName)
	}
	if d.index == nil {
		d.index = descindex.New(descindex.WithLogger(d.logger))
	}

	var err error
	d.rows, err = d.meter.Int64Counter(MetricRows,
		metric.WithDescription("Rows read from data block binaries"),
		metric.WithUnit("{row}"))
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricRows, err)
	}
	d.values, err = d.meter.Int64Counter(MetricValues,
		metric.WithDescription("Values routed to extraction plugins"),
		metric.WithUnit("{value}"))
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricValues, err)
	}

	if cfg.StringTableEnabled() {
		rules := d.loadRules(plugin.StringTableName, cfg.StringTable.Rules())
		d.plugins = append(d.plugins, plugin.NewStringTable(plugin.Options{
			Filter:   filter.NewPlain(rules, filter.WithKinds(walker.KindString)),
			Ordered:  cfg.StringTable.Ordered,
			Pretty:   cfg.StringTablePretty(),
			JSONFile: cfg.StringTable.OutputJSON,
			TextFile: cfg.StringTable.OutputText,
		}))
	}
	if cfg.TaggedDataEnabled() {
		rules := d.loadRules(plugin.TaggedFieldName, cfg.TaggedData.Rules())
		d.plugins = append(d.plugins, plugin.NewTaggedField(plugin.Options{
			Filter:   filter.NewTagged(rules, cfg.TaggedData.FieldTags, cfg.TaggedData.OneofTags),
			Ordered:  cfg.TaggedData.Ordered,
			Pretty:   cfg.TaggedDataPretty(),
			JSONFile: cfg.TaggedData.OutputJSON,
			TextFile: cfg.TaggedData.OutputText,
		}))
	}

	for _, p := range d.plugins {
		if x, ok := p.(interface{ Descriptor() plugin.Descriptor }); ok {
			desc := x.Descriptor()
			d.logger.Debug("plugin enabled",
				"plugin", desc.Name,
				"ordered", desc.Ordered,
				"pretty", desc.Pretty,
				"json_file", desc.JSONFile,
				"text_file", desc.TextFile)
		}
	}

	return d, nil
}

func (d *Dumper) loadRules(name string, src filter.RuleSource) *filter.Rules {
	rules, err := filter.LoadRules(src, d.logger.With("plugin", name))
	if err != nil {
		d.fail(err)
	}
	return rules
}

// Index returns the descriptor index of the dumper.
func (d *Dumper) Index() *descindex.Index { return d.index }

// Plugins returns the enabled plugins in flush order.
func (d *Dumper) Plugins() []plugin.Plugin { return d.plugins }

// Result returns the summary accumulated so far.
func (d *Dumper) Result() *Result { return &d.result }

func (d *Dumper) fail(err error) {
	d.result.Failed = true
	d.result.Errors = append(d.result.Errors, err)
}

func (d *Dumper) warn(err error) {
	d.result.Warnings = append(d.result.Warnings, err)
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// LoadDescriptorSets reads and registers every descriptor set file.
func (d *Dumper) LoadDescriptorSets(ctx context.Context, paths []string) {
	for _, path := range paths {
		data, err := d.readFile(path)
		if err != nil {
			err = dumperr.Newf(component, "load_descriptor_set", dumperr.ErrCodeReadFailed,
				"read %s failed", path).
				WithCause(err).
				WithClass(dumperr.ClassSchema).
				WithDetails(map[string]any{"file": path})
			d.logger.Error("open file failed", "file", path, "error", err)
			d.fail(err)
			continue
		}
		d.LoadDescriptorSet(ctx, path, data)
	}
}

// LoadDescriptorSet parses a serialized FileDescriptorSet and registers its
// files. Duplicate definitions are kept as warnings.
func (d *Dumper) LoadDescriptorSet(ctx context.Context, path string, data []byte) {
	_, span := d.tracer.Start(ctx, SpanLoadDescriptorSet,
		trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		err := dumperr.Newf(component, "load_descriptor_set", dumperr.ErrCodeReadFailed,
			"parse descriptor set %s failed", path).
			WithCause(err).
			WithClass(dumperr.ClassSchema).
			WithDetails(map[string]any{"file": path})
		d.logger.Error("parse descriptor set failed", "file", path, "error", err)
		failSpan(span, err)
		d.fail(err)
		return
	}

	span.SetAttributes(attribute.Int("files", len(set.GetFile())))
	if err := d.index.RegisterSet(&set, path); err != nil {
		d.warn(err)
	}
}

// ProcessBinary reads and processes one data block binary.
func (d *Dumper) ProcessBinary(ctx context.Context, path string) {
	data, err := d.readFile(path)
	if err != nil {
		err = dumperr.Newf(component, "process_binary", dumperr.ErrCodeReadFailed,
			"read %s failed", path).
			WithCause(err).
			WithDetails(map[string]any{"file": path})
		d.logger.Error("open file failed", "file", path, "error", err)
		d.fail(err)
		return
	}
	d.ProcessData(ctx, path, data)
}

// ProcessData decodes the envelope of one binary, dumps its header and rows,
// and feeds every row to the plugins.
func (d *Dumper) ProcessData(ctx context.Context, path string, data []byte) {
	ctx, span := d.tracer.Start(ctx, SpanProcessBinary,
		trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	env, err := envelope.Decode(data)
	if err != nil {
		err := dumperr.Newf(component, "process_binary", dumperr.ErrCodeCorruptEnvelope,
			"parse %s from file %s failed", envelope.DatablocksMessage, path).
			WithCause(err).
			WithDetails(map[string]any{"file": path})
		d.logger.Error("parse data blocks failed, ignore this file", "file", path, "error", err)
		failSpan(span, err)
		d.fail(err)
		return
	}

	if env.DataMessageType == "" {
		err := dumperr.Newf(component, "process_binary", dumperr.ErrCodeMissingMessageType,
			"file %s has no data_message_type, please use xresloader 2.6 or upper", path).
			WithDetails(map[string]any{"file": path})
		d.logger.Error("missing data message type", "file", path, "error", err)
		failSpan(span, err)
		d.fail(err)
		return
	}
	span.SetAttributes(attribute.String("message_type", env.DataMessageType))
	d.logger.Debug("parse data blocks success",
		"file", path,
		"message_type", env.DataMessageType,
		"rows", len(env.DataBlocks))

	md, err := d.index.ResolveMessage(env.DataMessageType)
	if err != nil {
		d.logger.Error("build message descriptor failed",
			"file", path,
			"message_type", env.DataMessageType,
			"error", err)
		failSpan(span, err)
		d.fail(err)
		return
	}

	header := env.Block(path)
	if !d.cfg.Silence {
		d.printHeader(header)
		d.printf("============ Body: %s -> %s ============\n", path, env.DataMessageType)
	}
	printRows := !d.cfg.HeadOnly && !d.cfg.Silence
	if printRows && !d.cfg.Plain {
		d.printf("[\n")
	}

	ids := make([]plugin.BlockID, len(d.plugins))
	for i, p := range d.plugins {
		ids[i] = p.CreateBlock(header)
	}

	okRows, failedRows := 0, 0
	cursor := datasource.NewCursor(header.DataSource)
	for i, raw := range env.DataBlocks {
		rowIndex := i + 1
		src := cursor.Next()

		msg := dynamicpb.NewMessage(md)
		if err := proto.Unmarshal(raw, msg); err != nil {
			err := dumperr.Newf(component, "process_binary", dumperr.ErrCodeRowDecodeFailed,
				"parse row %d to message %s failed", rowIndex, env.DataMessageType).
				WithCause(err).
				WithDetails(map[string]any{"file": path, "row": rowIndex})
			d.logger.Error("parse row failed",
				"file", path,
				"message_type", env.DataMessageType,
				"row", rowIndex,
				"error", err)
			d.fail(err)
			failedRows++
			continue
		}
		okRows++

		for j, p := range d.plugins {
			if n := p.LoadMessage(ids[j], msg, src.Item); n > 0 {
				d.values.Add(ctx, int64(n), metric.WithAttributes(attribute.String("plugin", p.Name())))
			}
		}

		if printRows {
			d.printRow(rowIndex, msg)
		}
	}

	if printRows && !d.cfg.Plain {
		d.printf("]\n")
	}

	for j, p := range d.plugins {
		p.PushBlock(ids[j])
	}

	d.rows.Add(ctx, int64(okRows), metric.WithAttributes(attribute.String("status", "ok")))
	if failedRows > 0 {
		d.rows.Add(ctx, int64(failedRows), metric.WithAttributes(attribute.String("status", "failed")))
		span.SetStatus(codes.Error, fmt.Sprintf("%d rows failed to decode", failedRows))
	}
	span.SetAttributes(attribute.Int("rows", okRows), attribute.Int("failed_rows", failedRows))

	d.result.Binaries++
	d.result.Rows += okRows
	d.result.FailedRows += failedRows
}

func (d *Dumper) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

func (d *Dumper) printHeader(h *datasource.Block) {
	d.printf("======================== Header: %s ========================\n", h.FilePath)
	d.printf("xresloader version: %s\n", h.XresVer)
	d.printf("data version: %s\n", h.DataVer)
	d.printf("data count: %d\n", h.Count)
	d.printf("hash code: %s\n", h.HashCode)
	d.printf("description: %s\n", h.Description)
	if len(h.DataSource) > 0 {
		d.printf("data source:\n")
	}
	for _, s := range h.DataSource {
		if s.Count > 0 {
			d.printf("  - file: %s, sheet: %s, count: %d\n", s.Item.File, s.Item.Sheet, s.Count)
		} else {
			d.printf("  - file: %s, sheet: %s\n", s.Item.File, s.Item.Sheet)
		}
	}
}

var (
	textPretty  = prototext.MarshalOptions{Multiline: true, Indent: "  "}
	textCompact = prototext.MarshalOptions{}
)

func (d *Dumper) printRow(rowIndex int, msg protoreflect.Message) {
	if d.cfg.Plain {
		if d.cfg.Pretty {
			d.printf("  ------------ Row %d ------------\n%s\n", rowIndex, textPretty.Format(msg.Interface()))
			return
		}
		d.printf("%s\n", textCompact.Format(msg.Interface()))
		return
	}

	out, err := rowJSON(msg, d.cfg.Pretty)
	if err != nil {
		d.logger.Debug("row is not representable as JSON, dumping text format", "row", rowIndex, "error", err)
		d.printf("%s\n", textPretty.Format(msg.Interface()))
		return
	}
	d.printf("    %s,\n", out)
}

// rowJSON renders a row through protojson and re-encodes it so object keys
// come out sorted and whitespace is stable.
func rowJSON(msg protoreflect.Message, pretty bool) ([]byte, error) {
	data, err := protojson.Marshal(msg.Interface())
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return plugin.Encode(v, pretty)
}

// Flush writes the output files of every plugin.
func (d *Dumper) Flush(ctx context.Context) {
	for _, p := range d.plugins {
		if err := p.Flush(p.Pretty()); err != nil {
			d.logger.ErrorContext(ctx, "write plugin output failed", "plugin", p.Name(), "error", err)
			d.fail(err)
		}
	}
}

// Run loads the configured descriptor sets, processes every binary in
// order and flushes the plugins. The returned error is non-nil when any
// step failed.
func (d *Dumper) Run(ctx context.Context) (*Result, error) {
	d.LoadDescriptorSets(ctx, d.cfg.PbFiles)
	for _, path := range d.cfg.BinFiles {
		if err := ctx.Err(); err != nil {
			d.fail(err)
			break
		}
		d.ProcessBinary(ctx, path)
	}
	d.Flush(ctx)

	if d.result.Failed {
		return &d.result, d.result.Err()
	}
	return &d.result, nil
}
