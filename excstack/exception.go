package excstack

import "fmt"

// Exception is the common shape of every error the core itself raises.
// Cause chains follow the reference event loop's error idiom
// (Cause/Message fields, Unwrap for errors.Is/errors.As), generalized to
// the spec's closed taxonomy: TypeError, ValueError, LookupError,
// RuntimeError, MemoryError, IndexError, PermissionError, CancelledError,
// UnicodeDecodeError, UnicodeEncodeError.
type Exception struct {
	Kind    Kind
	Message string
	Cause   error
}

// Kind enumerates the closed set of exception kinds the core signals.
type Kind int

const (
	KindTypeError Kind = iota
	KindValueError
	KindLookupError
	KindRuntimeError
	KindMemoryError
	KindIndexError
	KindPermissionError
	KindCancelledError
	KindUnicodeDecodeError
	KindUnicodeEncodeError
)

func (k Kind) String() string {
	switch k {
	case KindTypeError:
		return "TypeError"
	case KindValueError:
		return "ValueError"
	case KindLookupError:
		return "LookupError"
	case KindRuntimeError:
		return "RuntimeError"
	case KindMemoryError:
		return "MemoryError"
	case KindIndexError:
		return "IndexError"
	case KindPermissionError:
		return "PermissionError"
	case KindCancelledError:
		return "CancelledError"
	case KindUnicodeDecodeError:
		return "UnicodeDecodeError"
	case KindUnicodeEncodeError:
		return "UnicodeEncodeError"
	default:
		return fmt.Sprintf("Exception(%d)", k)
	}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Exception) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...any) *Exception {
	return &Exception{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewTypeError reports an argument of the wrong shape.
func NewTypeError(format string, args ...any) *Exception { return newf(KindTypeError, format, args...) }

// NewValueError reports an argument out of the allowed range.
func NewValueError(format string, args ...any) *Exception {
	return newf(KindValueError, format, args...)
}

// NewLookupError reports an unknown encoding or error handler name.
func NewLookupError(format string, args ...any) *Exception {
	return newf(KindLookupError, format, args...)
}

// NewRuntimeError reports an invalid poll function or an uninitialized
// runtime.
func NewRuntimeError(format string, args ...any) *Exception {
	return newf(KindRuntimeError, format, args...)
}

// NewMemoryError reports an allocation failure.
func NewMemoryError(format string, args ...any) *Exception {
	return newf(KindMemoryError, format, args...)
}

// NewIndexError reports an out-of-bounds access.
func NewIndexError(format string, args ...any) *Exception {
	return newf(KindIndexError, format, args...)
}

// NewPermissionError reports a missing capability.
func NewPermissionError(format string, args ...any) *Exception {
	return newf(KindPermissionError, format, args...)
}

// NewCancelledError reports task cancellation.
func NewCancelledError(format string, args ...any) *Exception {
	return newf(KindCancelledError, format, args...)
}

// UnicodeError carries the codec failure position, in addition to the
// base Exception fields.
type UnicodeError struct {
	Exception
	Encoding string
	Position int
}

func (e *UnicodeError) Error() string {
	return fmt.Sprintf("%s: %s (encoding=%s position=%d)", e.Kind, e.Message, e.Encoding, e.Position)
}

// NewUnicodeDecodeError reports a decode failure at position in a byte
// sequence encoded as encoding.
func NewUnicodeDecodeError(encoding string, position int, format string, args ...any) *UnicodeError {
	return &UnicodeError{
		Exception: Exception{Kind: KindUnicodeDecodeError, Message: fmt.Sprintf(format, args...)},
		Encoding:  encoding,
		Position:  position,
	}
}

// NewUnicodeEncodeError reports an encode failure at position in a string.
func NewUnicodeEncodeError(encoding string, position int, format string, args ...any) *UnicodeError {
	return &UnicodeError{
		Exception: Exception{Kind: KindUnicodeEncodeError, Message: fmt.Sprintf(format, args...)},
		Encoding:  encoding,
		Position:  position,
	}
}
