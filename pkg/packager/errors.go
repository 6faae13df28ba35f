package packager

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stages a packaging run can fail in.
const (
	StageManifest = "manifest"
	StageAsset    = "asset"
	StageNav      = "nav"
	StagePackage  = "package"
	StageArchive  = "archive"
)

// Error is a fatal packaging failure. No output file is left behind.
type Error struct {
	Stage   string
	Err     error
	Message string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to package %s: %s: %s", e.Stage, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("failed to package %s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(stage string, err error, message string) *Error {
	return &Error{Stage: stage, Err: err, Message: message}
}

// ErrFixedLayout is returned for pre-paginated magazines, whose table of
// contents has at most one entry.
var ErrFixedLayout = errors.New("magazine has unsupported fixed-layout (pre-paginated) format")
