package jobengine

import (
	"fmt"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
)

// Failure is the error type every terminal FAILED transition carries. The
// category drives the reason code on the failure callback; Detail is a
// human-readable message, never the raw error string from an I/O layer
// that might leak a path or credential.
type Failure struct {
	Category model.FailureCategory
	Detail   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Category, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Category, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(category model.FailureCategory, detail string, err error) *Failure {
	return &Failure{Category: category, Detail: detail, Err: err}
}

func validationFailure(detail string, err error) *Failure {
	return newFailure(model.FailureValidation, detail, err)
}

func transientFailure(detail string, err error) *Failure {
	return newFailure(model.FailureTransient, detail, err)
}

func systemFailure(detail string, err error) *Failure {
	return newFailure(model.FailureSystem, detail, err)
}
