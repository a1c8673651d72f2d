package assessments

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidSection = errors.New("invalid section index")
	ErrNotReviewable  = errors.New("assessment not in review")
	ErrNotAllApproved = errors.New("not all sections approved")
	ErrNoProposal     = errors.New("no pending proposal")
	ErrNoRatioFile    = errors.New("no ratio spreadsheet in upload")
)

const (
	ErrorCodeValidation = "VALIDATION_ERROR"
	ErrorCodeNotFound   = "NOT_FOUND"
	ErrorCodeConflict   = "CONFLICT"
	ErrorCodeGeneration = "GENERATION_ERROR"
	ErrorCodeInternal   = "INTERNAL_ERROR"
)
