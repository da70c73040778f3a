// Package descindex indexes file descriptor protos from compiled descriptor
// sets and lazily builds live descriptors from them, resolving imports
// across the whole index.
package descindex

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/zero-day-ai/xresdump/dumperr"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const component = "descindex"

// levelTrace is below Debug; index entries of built-in files are logged at
// this level so that --debug output only lists user declarations.
const levelTrace = slog.LevelDebug - 4

type fileRecord struct {
	proto    *descriptorpb.FileDescriptorProto
	origin   string
	internal bool

	// building is set while the file's dependencies are being resolved.
	building bool
	desc     protoreflect.FileDescriptor
}

type messageRecord struct {
	proto *descriptorpb.DescriptorProto
	file  *fileRecord
	desc  protoreflect.MessageDescriptor
}

type enumRecord struct {
	proto *descriptorpb.EnumDescriptorProto
	file  *fileRecord
	desc  protoreflect.EnumDescriptor
}

// Index registers raw file descriptor protos and builds live descriptors
// from them on demand. Names are unique per kind: the first registration of a
// file, message or enum wins.
//
// Index is safe for concurrent use; registration and lazy builds are
// serialized by a single mutex.
type Index struct {
	mu     sync.Mutex
	logger *slog.Logger

	files    map[string]*fileRecord
	messages map[string]*messageRecord
	enums    map[string]*enumRecord
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for registration warnings and debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Index) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// New creates an index pre-seeded with the protobuf well-known types and the
// xresloader built-in schema.
func New(opts ...Option) *Index {
	x := &Index{
		logger:   slog.Default(),
		files:    make(map[string]*fileRecord),
		messages: make(map[string]*messageRecord),
		enums:    make(map[string]*enumRecord),
	}
	for _, opt := range opts {
		opt(x)
	}

	for _, fd := range builtinFiles() {
		x.logger.Log(context.Background(), levelTrace, "register internal proto", "file", fd.Path())
		fdp := protodesc.ToFileDescriptorProto(fd)
		_ = x.register(fdp, fd.Path(), true)
		if rec := x.files[fd.Path()]; rec != nil && rec.desc == nil {
			rec.desc = fd
		}
	}

	return x
}

// Register adds a file descriptor proto loaded from origin (the descriptor
// set path). If a file with the same name is already indexed the call only
// logs a warning and returns a DUPLICATE_DEFINITION error; the index is not
// modified. Messages and enums that collide with already indexed names are
// skipped with a warning while the rest of the file is indexed.
func (x *Index) Register(fd *descriptorpb.FileDescriptorProto, origin string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.register(fd, origin, false)
}

// RegisterSet registers every file of a descriptor set.
func (x *Index) RegisterSet(set *descriptorpb.FileDescriptorSet, origin string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var errs []error
	for _, fd := range set.GetFile() {
		x.logger.Debug("found proto file",
			"file", fd.GetName(),
			"messages", len(fd.GetMessageType()),
			"enums", len(fd.GetEnumType()),
		)
		if err := x.register(fd, origin, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (x *Index) register(fd *descriptorpb.FileDescriptorProto, origin string, internal bool) error {
	name := fd.GetName()
	if old, ok := x.files[name]; ok {
		if internal {
			return nil
		}
		x.logger.Warn("proto file already defined, the new definition is ignored",
			"file", name,
			"defined_in", old.origin,
			"ignored_in", origin,
		)
		return dumperr.Newf(component, "register", dumperr.ErrCodeDuplicateDefinition,
			"%s is already defined in %s, the definition in %s is ignored", name, old.origin, origin).
			WithDetails(map[string]any{"file": name, "defined_in": old.origin, "ignored_in": origin})
	}

	rec := &fileRecord{proto: fd, origin: origin, internal: internal}
	x.files[name] = rec

	var errs []error
	pkg := fd.GetPackage()
	for _, e := range fd.GetEnumType() {
		if err := x.indexEnum(pkg, e, rec); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range fd.GetMessageType() {
		errs = append(errs, x.indexMessage(pkg, m, rec)...)
	}
	return errors.Join(errs...)
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (x *Index) indexEnum(prefix string, e *descriptorpb.EnumDescriptorProto, file *fileRecord) error {
	fullName := joinName(prefix, e.GetName())
	if old, ok := x.enums[fullName]; ok {
		return x.duplicate("enum", fullName, old.file, file)
	}
	x.logRecord(file, "index enum", fullName)
	x.enums[fullName] = &enumRecord{proto: e, file: file}
	return nil
}

func (x *Index) indexMessage(prefix string, m *descriptorpb.DescriptorProto, file *fileRecord) []error {
	fullName := joinName(prefix, m.GetName())
	if old, ok := x.messages[fullName]; ok {
		return []error{x.duplicate("message", fullName, old.file, file)}
	}
	x.logRecord(file, "index message", fullName)
	x.messages[fullName] = &messageRecord{proto: m, file: file}

	var errs []error
	for _, e := range m.GetEnumType() {
		if err := x.indexEnum(fullName, e, file); err != nil {
			errs = append(errs, err)
		}
	}
	for _, nested := range m.GetNestedType() {
		errs = append(errs, x.indexMessage(fullName, nested, file)...)
	}
	return errs
}

func (x *Index) duplicate(kind, fullName string, old, file *fileRecord) error {
	if !file.internal {
		x.logger.Warn(kind+" already defined, the new definition is ignored",
			kind, fullName,
			"defined_in", old.proto.GetName(),
			"defined_origin", old.origin,
			"ignored_in", file.proto.GetName(),
			"ignored_origin", file.origin,
		)
	}
	return dumperr.Newf(component, "register", dumperr.ErrCodeDuplicateDefinition,
		"%s %s is already defined in %s of %s, the definition in %s of %s is ignored",
		kind, fullName, old.proto.GetName(), old.origin, file.proto.GetName(), file.origin)
}

func (x *Index) logRecord(file *fileRecord, msg, fullName string) {
	level := slog.LevelDebug
	if file.internal {
		level = levelTrace
	}
	x.logger.Log(context.Background(), level, msg, "name", fullName, "file", file.proto.GetName())
}

// ResolveFile returns the live descriptor of an indexed file, building it and
// its dependencies first when needed. Results are memoized; failures are not.
func (x *Index) ResolveFile(name string) (protoreflect.FileDescriptor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.resolveFile(name, nil)
}

func (x *Index) resolveFile(name string, chain []string) (protoreflect.FileDescriptor, error) {
	rec, ok := x.files[name]
	if !ok {
		return nil, dumperr.Newf(component, "resolve_file", dumperr.ErrCodeNotFound, "proto file %s not found", name).
			WithDetails(map[string]any{"file": name})
	}
	if rec.desc != nil {
		return rec.desc, nil
	}
	if rec.building {
		cycle := strings.Join(append(chain, name), " -> ")
		return nil, dumperr.Newf(component, "resolve_file", dumperr.ErrCodeCyclicDependency,
			"cyclic dependency %s", cycle).
			WithDetails(map[string]any{"file": name, "cycle": cycle})
	}

	rec.building = true
	defer func() { rec.building = false }()

	chain = append(chain, name)
	deps := make([]protoreflect.FileDescriptor, 0, len(rec.proto.GetDependency()))
	var errs []error
	for _, dep := range rec.proto.GetDependency() {
		d, err := x.resolveFile(dep, chain)
		if err != nil {
			x.logger.Error("build dependency failed", "dependency", dep, "file", name, "error", err)
			errs = append(errs, dumperr.Newf(component, "resolve_file", dumperr.ErrCodeDependencyFailed,
				"build dependency %s of %s failed", dep, name).
				WithCause(err).
				WithDetails(map[string]any{"file": name, "dependency": dep}))
			continue
		}
		deps = append(deps, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	files := new(protoregistry.Files)
	for _, d := range deps {
		if err := registerClosure(files, d); err != nil {
			return nil, dumperr.Newf(component, "resolve_file", dumperr.ErrCodeBuildFailed,
				"build file descriptor %s from %s failed", name, rec.origin).WithCause(err)
		}
	}

	fd, err := protodesc.NewFile(rec.proto, files)
	if err != nil {
		return nil, dumperr.Newf(component, "resolve_file", dumperr.ErrCodeBuildFailed,
			"build file descriptor %s from %s failed", name, rec.origin).
			WithCause(err).
			WithDetails(map[string]any{"file": name, "origin": rec.origin})
	}

	rec.desc = fd
	return fd, nil
}

// registerClosure registers fd and everything it imports, skipping files
// that are already present.
func registerClosure(files *protoregistry.Files, fd protoreflect.FileDescriptor) error {
	if _, err := files.FindFileByPath(fd.Path()); err == nil {
		return nil
	}
	imports := fd.Imports()
	for i := 0; i < imports.Len(); i++ {
		if err := registerClosure(files, imports.Get(i).FileDescriptor); err != nil {
			return err
		}
	}
	return files.RegisterFile(fd)
}

func normalize(fullName string) string {
	return strings.TrimPrefix(fullName, ".")
}

// ResolveMessage returns the live descriptor of a message by its fully
// qualified name. A leading "." is accepted.
func (x *Index) ResolveMessage(fullName string) (protoreflect.MessageDescriptor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	name := normalize(fullName)
	rec, ok := x.messages[name]
	if !ok {
		return nil, dumperr.Newf(component, "resolve_message", dumperr.ErrCodeNotFound, "proto message %s not found", name).
			WithDetails(map[string]any{"message": name})
	}
	if rec.desc != nil {
		return rec.desc, nil
	}

	fd, err := x.resolveFile(rec.file.proto.GetName(), nil)
	if err != nil {
		return nil, dumperr.Newf(component, "resolve_message", dumperr.ErrCodeDependencyFailed,
			"build file descriptor %s for message %s failed", rec.file.origin, name).WithCause(err)
	}

	md := findMessage(fd.Messages(), protoreflect.FullName(name))
	if md == nil {
		return nil, dumperr.Newf(component, "resolve_message", dumperr.ErrCodeInconsistentSchema,
			"file %s does not contain message %s", fd.Path(), name)
	}

	rec.desc = md
	return md, nil
}

// ResolveEnum returns the live descriptor of an enum by its fully qualified
// name. A leading "." is accepted.
func (x *Index) ResolveEnum(fullName string) (protoreflect.EnumDescriptor, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	name := normalize(fullName)
	rec, ok := x.enums[name]
	if !ok {
		return nil, dumperr.Newf(component, "resolve_enum", dumperr.ErrCodeNotFound, "proto enum %s not found", name).
			WithDetails(map[string]any{"enum": name})
	}
	if rec.desc != nil {
		return rec.desc, nil
	}

	fd, err := x.resolveFile(rec.file.proto.GetName(), nil)
	if err != nil {
		return nil, dumperr.Newf(component, "resolve_enum", dumperr.ErrCodeDependencyFailed,
			"build file descriptor %s for enum %s failed", rec.file.origin, name).WithCause(err)
	}

	ed := findEnum(fd.Enums(), fd.Messages(), protoreflect.FullName(name))
	if ed == nil {
		return nil, dumperr.Newf(component, "resolve_enum", dumperr.ErrCodeInconsistentSchema,
			"file %s does not contain enum %s", fd.Path(), name)
	}

	rec.desc = ed
	return ed, nil
}

func isScope(scope, name protoreflect.FullName) bool {
	return strings.HasPrefix(string(name), string(scope)+".")
}

func findMessage(msgs protoreflect.MessageDescriptors, name protoreflect.FullName) protoreflect.MessageDescriptor {
	for i := 0; i < msgs.Len(); i++ {
		m := msgs.Get(i)
		if m.FullName() == name {
			return m
		}
		if isScope(m.FullName(), name) {
			if found := findMessage(m.Messages(), name); found != nil {
				return found
			}
		}
	}
	return nil
}

func findEnum(enums protoreflect.EnumDescriptors, msgs protoreflect.MessageDescriptors, name protoreflect.FullName) protoreflect.EnumDescriptor {
	if e := enums.ByName(name.Name()); e != nil && e.FullName() == name {
		return e
	}
	for i := 0; i < msgs.Len(); i++ {
		m := msgs.Get(i)
		if isScope(m.FullName(), name) {
			if found := findEnum(m.Enums(), m.Messages(), name); found != nil {
				return found
			}
		}
	}
	return nil
}

// Files returns the names of all indexed files in sorted order.
func (x *Index) Files() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Sorted(maps.Keys(x.files))
}

// Messages returns the fully qualified names of all indexed messages in sorted order.
func (x *Index) Messages() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Sorted(maps.Keys(x.messages))
}

// Enums returns the fully qualified names of all indexed enums in sorted order.
func (x *Index) Enums() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Sorted(maps.Keys(x.enums))
}

// Origin returns the path a file was loaded from and whether it is a
// built-in file.
func (x *Index) Origin(file string) (origin string, internal bool, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.files[file]
	if !ok {
		return "", false, false
	}
	return rec.origin, rec.internal, true
}
