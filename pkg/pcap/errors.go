package pcap

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCaptureOpen is wrapped by every failure to open or recognise a capture file.
	ErrCaptureOpen = errors.New("capture open failed")
	// ErrCaptureRead is wrapped by unrecoverable failures in the middle of a capture.
	ErrCaptureRead = errors.New("capture read failed")
	// ErrEndOfCapture is returned by Next once the capture is exhausted.
	ErrEndOfCapture = io.EOF
)

// CaptureError describes a fatal capture failure.
type CaptureError struct {
	Kind error // ErrCaptureOpen or ErrCaptureRead
	Path string
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
