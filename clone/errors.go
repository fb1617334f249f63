package clone

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// Subcode identifies the specific reason a clone operation was refused,
// per the closed DataCloneError taxonomy in spec.md §7.
type Subcode string

const (
	SubcodeMaxDepthExceeded    Subcode = "MaxDepthExceeded"
	SubcodeMaxSizeExceeded     Subcode = "MaxSizeExceeded"
	SubcodeDetachedArrayBuffer Subcode = "DetachedArrayBuffer"
	SubcodeInvalidData         Subcode = "InvalidData"
	SubcodeCannotCloneType     Subcode = "CannotCloneType"
)

// CloneError is the single error type this package returns. It always
// carries a Subcode from the closed set above, so callers can switch on
// errors.As without string-matching messages. The JS-visible name is
// always "DataCloneError", per spec.md §7.
type CloneError struct {
	Subcode Subcode
	// TypeName is set only for SubcodeCannotCloneType, naming the refused
	// brand (e.g. "Function", "Symbol", "Promise").
	TypeName string
	// detail is additional human-readable context (e.g. the offending
	// byte offset, or the limit that was exceeded).
	detail string
}

func (e *CloneError) Error() string {
	name := "DataCloneError"
	switch e.Subcode {
	case SubcodeCannotCloneType:
		return fmt.Sprintf("%s: value of type %q could not be cloned", name, e.TypeName)
	default:
		if e.detail != "" {
			return fmt.Sprintf("%s: %s: %s", name, e.Subcode, e.detail)
		}
		return fmt.Sprintf("%s: %s", name, e.Subcode)
	}
}

// Is allows errors.Is(err, ErrMaxDepthExceeded) style checks against the
// sentinels below, matching on Subcode rather than identity.
func (e *CloneError) Is(target error) bool {
	var other *CloneError
	if errors.As(target, &other) {
		return e.Subcode == other.Subcode
	}
	return false
}

// Sentinels for errors.Is comparisons against a bare subcode, independent
// of TypeName/detail.
var (
	ErrMaxDepthExceeded    = &CloneError{Subcode: SubcodeMaxDepthExceeded}
	ErrMaxSizeExceeded     = &CloneError{Subcode: SubcodeMaxSizeExceeded}
	ErrDetachedArrayBuffer = &CloneError{Subcode: SubcodeDetachedArrayBuffer}
	ErrInvalidData         = &CloneError{Subcode: SubcodeInvalidData}
)

func errMaxDepth(depth int) error {
	return &CloneError{Subcode: SubcodeMaxDepthExceeded, detail: fmt.Sprintf("recursion depth %d exceeds limit %d", depth, MaxDepth)}
}

func errMaxSize(size int) error {
	return &CloneError{
		Subcode: SubcodeMaxSizeExceeded,
		detail:  fmt.Sprintf("output size %s exceeds limit %s", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(MaxSize))),
	}
}

func errInvalidData(detail string) error {
	return &CloneError{Subcode: SubcodeInvalidData, detail: detail}
}

func errDetachedBuffer() error {
	return &CloneError{Subcode: SubcodeDetachedArrayBuffer}
}

func errCannotCloneType(typeName string) error {
	return &CloneError{Subcode: SubcodeCannotCloneType, TypeName: typeName}
}

// Refused brands, per spec.md §4.4 ("A value classified as Function,
// Symbol, WeakMap, WeakSet, or Promise fails with the appropriate
// DataCloneError"). Proxy is refused too, per §7's closed list.
var refusedBrands = map[string]bool{
	"Function": true,
	"Symbol":   true,
	"WeakMap":  true,
	"WeakSet":  true,
	"Promise":  true,
	"Proxy":    true,
}

// CheckBrand is called while converting a script value's brand (its
// "[object X]" internal class) into a Value; the worker package's clone
// bridge calls it for values its JS walk marks unsupported. It returns a CannotCloneType error for the closed set
// of refused brands, and nil otherwise (including for unknown brands,
// which spec.md §4.4 says serialize as a plain Object).
func CheckBrand(brand string) error {
	if refusedBrands[brand] {
		return errCannotCloneType(brand)
	}
	return nil
}

// NewDetachedBufferError returns the DetachedArrayBuffer error, for code
// that converts a native ArrayBuffer that has been detached (transferred
// away). Nothing in this module calls it; the writer reports the same
// subcode for an ArrayBuffer Value whose Buffer is nil.
func NewDetachedBufferError() error {
	return errDetachedBuffer()
}
