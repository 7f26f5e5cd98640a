package chimera

import (
	"github.com/pkg/errors"
)

// Sentinel error kinds. Callers should compare with errors.Cause after
// unwrapping, via the helpers below.
var (
	// ErrMalformedAnnotation indicates inconsistent exon coordinates or an
	// unparseable annotation row. Fatal; no classification may start.
	ErrMalformedAnnotation = errors.New("malformed annotation")
	// ErrAlignmentStream indicates a truncated, missorted or otherwise
	// unusable alignment stream. Fatal to the current stage only; outputs of
	// earlier stages remain valid.
	ErrAlignmentStream = errors.New("alignment stream error")
	// ErrOutOfRange indicates a transcript-space position past the end of the
	// transcript.
	ErrOutOfRange = errors.New("position out of transcript range")
)

// IsMalformedAnnotation reports whether err is an ErrMalformedAnnotation.
func IsMalformedAnnotation(err error) bool {
	return errors.Cause(err) == ErrMalformedAnnotation
}

// IsAlignmentStream reports whether err is an ErrAlignmentStream.
func IsAlignmentStream(err error) bool {
	return errors.Cause(err) == ErrAlignmentStream
}
