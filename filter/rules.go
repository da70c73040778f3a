package filter

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/zero-day-ai/xresdump/dumperr"
)

const component = "filter"

// maxLineSize bounds a single rule file line.
const maxLineSize = 1 << 20

// RuleSource is the unparsed rule configuration of one extraction: literal
// regexes and paths of newline-delimited rule files.
type RuleSource struct {
	IncludeValueRegexRules []string
	IncludeValueRegexFiles []string
	ExcludeValueRegexRules []string
	ExcludeValueRegexFiles []string

	IncludeFieldPathFiles   []string
	ExcludeFieldPathFiles   []string
	IncludeMessagePathFiles []string
	ExcludeMessagePathFiles []string
}

// Rules is a loaded rule set. The zero value accepts every non-blank value,
// every field and every message.
type Rules struct {
	IncludeValues []*regexp.Regexp
	ExcludeValues []*regexp.Regexp

	IncludeFields   map[string]struct{}
	ExcludeFields   map[string]struct{}
	IncludeMessages map[string]struct{}
	ExcludeMessages map[string]struct{}
}

// LoadRules compiles the literal regexes of src and reads its rule files.
// Rules that fail to compile and files that cannot be read are logged and
// skipped, so the returned rules are always usable; the returned error joins
// every problem found.
func LoadRules(src RuleSource, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Rules{
		IncludeFields:   make(map[string]struct{}),
		ExcludeFields:   make(map[string]struct{}),
		IncludeMessages: make(map[string]struct{}),
		ExcludeMessages: make(map[string]struct{}),
	}

	var errs []error
	report := func(err error) {
		logger.Error("load filter rule failed", "error", err)
		errs = append(errs, err)
	}

	compileInto := func(dst *[]*regexp.Regexp, origin string) func(string) {
		return func(rule string) {
			re, err := regexp.Compile(rule)
			if err != nil {
				report(dumperr.Newf(component, "load_rules", dumperr.ErrCodeInvalidRule,
					"invalid regex rule %q from %s", rule, origin).
					WithCause(err).
					WithDetails(map[string]any{"rule": rule, "origin": origin}))
				return
			}
			*dst = append(*dst, re)
		}
	}

	addInto := func(dst map[string]struct{}) func(string) {
		return func(path string) {
			dst[strings.TrimPrefix(path, ".")] = struct{}{}
		}
	}

	for _, rule := range src.IncludeValueRegexRules {
		compileInto(&r.IncludeValues, "command line")(rule)
	}
	for _, rule := range src.ExcludeValueRegexRules {
		compileInto(&r.ExcludeValues, "command line")(rule)
	}

	files := []struct {
		paths []string
		fn    func(path string) func(string)
	}{
		{src.IncludeValueRegexFiles, func(p string) func(string) { return compileInto(&r.IncludeValues, p) }},
		{src.ExcludeValueRegexFiles, func(p string) func(string) { return compileInto(&r.ExcludeValues, p) }},
		{src.IncludeFieldPathFiles, func(string) func(string) { return addInto(r.IncludeFields) }},
		{src.ExcludeFieldPathFiles, func(string) func(string) { return addInto(r.ExcludeFields) }},
		{src.IncludeMessagePathFiles, func(string) func(string) { return addInto(r.IncludeMessages) }},
		{src.ExcludeMessagePathFiles, func(string) func(string) { return addInto(r.ExcludeMessages) }},
	}
	for _, group := range files {
		for _, path := range group.paths {
			if err := ReadLines(path, group.fn(path)); err != nil {
				report(err)
			}
		}
	}

	return r, errors.Join(errs...)
}

// ReadLines calls fn for every line of the file at path with surrounding
// whitespace removed. Blank lines and lines starting with '#' are skipped.
func ReadLines(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return unreadable(path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return unreadable(path, err)
	}
	return nil
}

func unreadable(path string, err error) error {
	return dumperr.Newf(component, "read_lines", dumperr.ErrCodeRuleFileUnreadable, "read rule file %s failed", path).
		WithCause(err).
		WithDetails(map[string]any{"path": path})
}

// AcceptValue reports whether s is non-blank, matches an include regex (when
// any is configured) and matches no exclude regex.
func (r *Rules) AcceptValue(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}

	if len(r.IncludeValues) > 0 {
		matched := false
		for _, re := range r.IncludeValues {
			if re.MatchString(s) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, re := range r.ExcludeValues {
		if re.MatchString(s) {
			return false
		}
	}
	return true
}

// AcceptFieldPath applies the include and exclude field path sets to a
// fully qualified field name.
func (r *Rules) AcceptFieldPath(fullName string) bool {
	return acceptPath(r.IncludeFields, r.ExcludeFields, fullName)
}

// AcceptMessagePath applies the include and exclude message path sets to a
// fully qualified message name.
func (r *Rules) AcceptMessagePath(fullName string) bool {
	return acceptPath(r.IncludeMessages, r.ExcludeMessages, fullName)
}

func acceptPath(include, exclude map[string]struct{}, name string) bool {
	if len(include) > 0 {
		if _, ok := include[name]; !ok {
			return false
		}
	}
	_, excluded := exclude[name]
	return !excluded
}
