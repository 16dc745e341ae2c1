// Package silterrors implements the error taxonomy shared across the
// repository's core packages (spec.md §7): NotFound, AlreadyExists,
// Conflict, Invalid, Integrity, IO, and ShallowRequired. Each kind is a
// sentinel that call sites wrap with fmt.Errorf("...: %w", ...) so the
// kind survives errors.Is while the message names the specific
// resource involved, following the teacher's ErrBranchNotFound /
// ErrKeyNotFound convention.
package silterrors

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("%w: <detail>", Kind).
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrConflict       = errors.New("conflict")
	ErrInvalid        = errors.New("invalid")
	ErrIntegrity      = errors.New("integrity violation")
	ErrIO             = errors.New("io error")
	ErrShallowRequired = errors.New("operation requires full history")
)

// Kind identifies which of the taxonomy's buckets an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindConflict
	KindInvalid
	KindIntegrity
	KindIO
	KindShallowRequired
)

var kindSentinels = map[Kind]error{
	KindNotFound:        ErrNotFound,
	KindAlreadyExists:   ErrAlreadyExists,
	KindConflict:        ErrConflict,
	KindInvalid:         ErrInvalid,
	KindIntegrity:       ErrIntegrity,
	KindIO:              ErrIO,
	KindShallowRequired: ErrShallowRequired,
}

// ClassOf reports which taxonomy Kind an error belongs to, walking the
// error chain with errors.Is. Returns KindUnknown if none match.
func ClassOf(err error) Kind {
	for k, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindUnknown
}
