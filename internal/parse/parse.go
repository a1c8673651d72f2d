// Package parse converts spreadsheet inputs to markdown through an external
// parsing service.
package parse

import (
	"context"
	"errors"
)

// Parser turns one spreadsheet into markdown text.
type Parser interface {
	ParseToMarkdown(ctx context.Context, fileName string, data []byte) (string, error)
}

var (
	// ErrParseFailed indicates the parsing service rejected or failed the job.
	ErrParseFailed = errors.New("parse failed")
	// ErrEmptyResult indicates the job finished but produced no text.
	ErrEmptyResult = errors.New("empty parse result")
)
