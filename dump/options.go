package dump

import (
	"io"
	"log/slog"

	"github.com/zero-day-ai/xresdump/descindex"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Dumper.
type Option func(*Dumper)

// WithLogger sets the logger for diagnostics. The dumper tags it with a run_id.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dumper) {
		d.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer. Spans are created per descriptor
// set and per binary.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dumper) {
		d.tracer = tracer
	}
}

// WithMeter sets the meter the row and value counters are created from.
func WithMeter(meter metric.Meter) Option {
	return func(d *Dumper) {
		d.meter = meter
	}
}

// WithOutput sets the destination of the header and row dump.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Dumper) {
		d.out = w
	}
}

// WithIndex uses an existing descriptor index instead of a fresh one.
func WithIndex(index *descindex.Index) Option {
	return func(d *Dumper) {
		d.index = index
	}
}

// WithReadFile replaces the function used to read descriptor sets and binaries.
func WithReadFile(fn func(path string) ([]byte, error)) Option {
	return func(d *Dumper) {
		d.readFile = fn
	}
}
