package converter

import (
	"debug/elf"
	"errors"
	"fmt"
)

var (
	ErrNotRecognized         = errors.New("not recognized as an ELF shared library")
	ErrUnsupportedWordSize   = errors.New("unsupported word size")
	ErrTruncatedFile         = errors.New("truncated file")
	ErrTruncatedSection      = errors.New("truncated section")
	ErrMissingDynamicSection = errors.New("missing dynamic section")
)

var (
	ErrSectionOverflow           = errors.New("section overflow")
	ErrUnsupportedRelocationType = errors.New("unsupported relocation type")
)

// FormatError reports input the parser cannot use. Kind is one of the
// parse sentinels above.
type FormatError struct {
	Kind    error
	Section string
	Detail  string
}

func formatError(kind error, section string, format string, args ...any) *FormatError {
	return &FormatError{Kind: kind, Section: section, Detail: fmt.Sprintf(format, args...)}
}

func (e *FormatError) Error() string {
	msg := e.Kind.Error()
	if e.Section != "" {
		msg += " (" + e.Section + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	return e.Kind
}

// EmitError reports an object the emitter cannot express.
type EmitError struct {
	Kind    error
	Section string
	Symbol  string
	Detail  string
}

func (e *EmitError) Error() string {
	msg := e.Kind.Error()
	if e.Section != "" {
		msg += " in " + e.Section
	}
	if e.Symbol != "" {
		msg += " for " + e.Symbol
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *EmitError) Unwrap() error {
	return e.Kind
}

// SkippedSymbolWarning marks an export that was left out, either because
// its type has no stub form or because the runtime calls a libc function
// of the same name. It never stops a conversion.
type SkippedSymbolWarning struct {
	Name     string
	Type     elf.SymType
	Reserved bool
}

func (w SkippedSymbolWarning) Error() string {
	if w.Reserved {
		return fmt.Sprintf("skipping %s: name is used by the runtime", w.Name)
	}
	return fmt.Sprintf("skipping %s: unsupported symbol type %s", w.Name, w.Type)
}
