package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zero-day-ai/xresdump/config"
	"github.com/zero-day-ai/xresdump/dump"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newApp().cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// binder registers flags that write into a scratch config and remembers how
// to copy each one onto the effective config when it was given.
type binder struct {
	flags *pflag.FlagSet
	set   *config.Config
	apply map[string]func(dst *config.Config)
}

func newBinder(flags *pflag.FlagSet) *binder {
	return &binder{
		flags: flags,
		set:   &config.Config{},
		apply: make(map[string]func(dst *config.Config)),
	}
}

func (b *binder) boolVar(name, usage string, field func(*config.Config) *bool) {
	b.flags.BoolVar(field(b.set), name, false, usage)
	b.apply[name] = func(dst *config.Config) { *field(dst) = *field(b.set) }
}

func (b *binder) stringVar(name, usage string, field func(*config.Config) *string) {
	b.flags.StringVar(field(b.set), name, "", usage)
	b.apply[name] = func(dst *config.Config) { *field(dst) = *field(b.set) }
}

// listVar binds a repeatable flag. Values are taken verbatim so regex rules
// may contain commas.
func (b *binder) listVar(name, short, usage string, field func(*config.Config) *[]string) {
	b.flags.StringArrayVarP(field(b.set), name, short, nil, usage)
	b.apply[name] = func(dst *config.Config) { *field(dst) = *field(b.set) }
}

// tagsVar binds a comma separated tag list.
func (b *binder) tagsVar(name, usage string, field func(*config.Config) *[]string) {
	b.flags.StringSliceVar(field(b.set), name, nil, usage)
	b.apply[name] = func(dst *config.Config) { *field(dst) = *field(b.set) }
}

// rules binds the rule flags of one extraction under the given prefix.
func (b *binder) rules(prefix string, ext func(*config.Config) *config.ExtractConfig) {
	lists := []struct {
		name  string
		usage string
		field func(*config.ExtractConfig) *[]string
	}{
		{"include-value-regex-rule", "regex a value must match", func(e *config.ExtractConfig) *[]string { return &e.IncludeValueRegexRules }},
		{"include-value-regex-file", "file of regexes a value must match", func(e *config.ExtractConfig) *[]string { return &e.IncludeValueRegexFiles }},
		{"exclude-value-regex-rule", "regex rejecting a value", func(e *config.ExtractConfig) *[]string { return &e.ExcludeValueRegexRules }},
		{"exclude-value-regex-file", "file of regexes rejecting a value", func(e *config.ExtractConfig) *[]string { return &e.ExcludeValueRegexFiles }},
		{"include-field-path-file", "file of field full names to extract", func(e *config.ExtractConfig) *[]string { return &e.IncludeFieldPathFiles }},
		{"exclude-field-path-file", "file of field full names to skip", func(e *config.ExtractConfig) *[]string { return &e.ExcludeFieldPathFiles }},
		{"include-message-path-file", "file of message full names to extract", func(e *config.ExtractConfig) *[]string { return &e.IncludeMessagePathFiles }},
		{"exclude-message-path-file", "file of message full names to skip", func(e *config.ExtractConfig) *[]string { return &e.ExcludeMessagePathFiles }},
	}
	for _, l := range lists {
		field := l.field
		b.listVar(prefix+"-"+l.name, "", l.usage, func(c *config.Config) *[]string { return field(ext(c)) })
	}
}

// merge applies every flag given on the command line onto cfg.
func (b *binder) merge(cfg *config.Config) {
	b.flags.Visit(func(f *pflag.Flag) {
		if fn, ok := b.apply[f.Name]; ok {
			fn(cfg)
		}
	})
}

func stringTable(c *config.Config) *config.ExtractConfig { return &c.StringTable }
func taggedData(c *config.Config) *config.ExtractConfig  { return &c.TaggedData.ExtractConfig }

// app is the root command with its flag bindings.
type app struct {
	cmd        *cobra.Command
	binder     *binder
	configPath string
}

func newApp() *app {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "xresdump [flags] <bin files...>",
		Short: "Dump xresloader data block binaries",
		Long: `xresdump decodes data block binaries exported by xresloader against the
descriptor sets given with --pb-file, prints headers and rows, and extracts
string tables and tagged field data into JSON or text files.

Settings may also come from a YAML file given with --config. Flags given on
the command line override the file.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	b := newBinder(cmd.Flags())
	a.cmd, a.binder = cmd, b
	cmd.Flags().StringVar(&a.configPath, "config", "", "YAML config file or directory containing xresdump.yaml")
	b.listVar("pb-file", "p", "descriptor set file (protoc -o), repeatable", func(c *config.Config) *[]string { return &c.PbFiles })
	b.boolVar("debug", "show debug logs", func(c *config.Config) *bool { return &c.Debug })
	b.boolVar("pretty", "indent rows and every JSON output", func(c *config.Config) *bool { return &c.Pretty })
	b.boolVar("plain", "print rows in protobuf text format", func(c *config.Config) *bool { return &c.Plain })
	b.boolVar("head-only", "print headers only", func(c *config.Config) *bool { return &c.HeadOnly })
	b.boolVar("silence", "print neither headers nor rows", func(c *config.Config) *bool { return &c.Silence })

	b.stringVar("output-string-table-json", "string table JSON output file", func(c *config.Config) *string { return &c.StringTable.OutputJSON })
	b.stringVar("output-string-table-text", "string table text output file", func(c *config.Config) *string { return &c.StringTable.OutputText })
	b.boolVar("string-table-pretty", "indent string table JSON", func(c *config.Config) *bool { return &c.StringTable.Pretty })
	b.boolVar("string-table-ordered", "sort string table JSON body", func(c *config.Config) *bool { return &c.StringTable.Ordered })
	b.rules("string-table", stringTable)

	b.stringVar("output-tagged-data-json", "tagged data JSON output file", func(c *config.Config) *string { return &c.TaggedData.OutputJSON })
	b.stringVar("output-tagged-data-text", "tagged data text output file", func(c *config.Config) *string { return &c.TaggedData.OutputText })
	b.boolVar("tagged-data-pretty", "indent tagged data JSON", func(c *config.Config) *bool { return &c.TaggedData.Pretty })
	b.boolVar("tagged-data-ordered", "sort tagged data JSON body", func(c *config.Config) *bool { return &c.TaggedData.Ordered })
	b.tagsVar("tagged-field-tags", "org.xresloader.field_tag values to extract", func(c *config.Config) *[]string { return &c.TaggedData.FieldTags })
	b.tagsVar("tagged-oneof-tags", "org.xresloader.oneof_tag values to extract", func(c *config.Config) *[]string { return &c.TaggedData.OneofTags })
	b.rules("tagged-data", taggedData)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := a.resolve(args)
		if err != nil {
			return err
		}

		level := slog.LevelInfo
		if cfg.Debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		d, err := dump.New(cfg, dump.WithLogger(logger), dump.WithOutput(cmd.OutOrStdout()))
		if err != nil {
			return err
		}

		res, err := d.Run(cmd.Context())
		logger.Debug("dump finished",
			"binaries", res.Binaries,
			"rows", res.Rows,
			"failed_rows", res.FailedRows,
			"errors", len(res.Errors),
			"warnings", len(res.Warnings))
		if err != nil {
			return fmt.Errorf("dump finished with %d error(s)", len(res.Errors))
		}
		return nil
	}

	return a
}

// resolve builds the effective configuration: the config file when given,
// then every flag set on the command line, then the positional binaries.
func (a *app) resolve(args []string) (*config.Config, error) {
	cfg := &config.Config{}
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	a.binder.merge(cfg)
	cfg.BinFiles = append(cfg.BinFiles, args...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
