package genai

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
)

// Client abstracts the document generation service. A prompt is an ordered
// mix of text blocks and previously uploaded file handles.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	UploadFile(ctx context.Context, upload Upload) (FileHandle, error)
	DeleteFile(ctx context.Context, name string) error
}

// Request captures one generation call.
type Request struct {
	Model       string
	Parts       []Part
	Temperature *float32
}

// Part is one prompt element: either Text or a File handle, never both.
type Part struct {
	Text string
	File *FileHandle
}

// Text wraps a text block as a prompt part.
func Text(s string) Part {
	return Part{Text: s}
}

// File wraps an uploaded file handle as a prompt part.
func File(h FileHandle) Part {
	return Part{File: &h}
}

// FileHandle identifies a file uploaded to the generation service.
type FileHandle struct {
	Name        string
	URI         string
	MIMEType    string
	DisplayName string
}

// Upload describes one file to push to the generation service.
type Upload struct {
	DisplayName string
	MIMEType    string
	Data        io.Reader
}

var (
	// ErrBlocked indicates the prompt was rejected by content policy.
	ErrBlocked = errors.New("prompt blocked")
	// ErrEmptyResponse indicates the service returned no usable text.
	ErrEmptyResponse = errors.New("empty response")
	// ErrUploadFailed indicates the upload did not succeed after retries.
	ErrUploadFailed = errors.New("upload failed")
	// ErrFileNotReady indicates an uploaded file never became usable in time.
	ErrFileNotReady = errors.New("uploaded file not ready")
)

var codeFence = regexp.MustCompile("(?s)^```(?:html)?\\s*|\\s*```$")

// CleanHTML strips markdown code fences that models wrap HTML output in.
func CleanHTML(text string) string {
	return strings.TrimSpace(codeFence.ReplaceAllString(strings.TrimSpace(text), ""))
}
