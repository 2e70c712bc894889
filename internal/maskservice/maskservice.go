// Package maskservice talks to the remote PII masking service.
package maskservice

import (
	"context"
	"fmt"
)

// File is the upload sent in the "file" form part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result is a successful response from the service.
type Result struct {
	Data               []byte
	ContentType        string
	ContentDisposition string
}

// Client exposes the one call the workflow needs.
type Client interface {
	Mask(ctx context.Context, requestID string, file File) (*Result, error)
}

// StatusError reports a response outside the 2xx range. The body is not inspected.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("masking service returned %s", e.Status)
	}
	return fmt.Sprintf("masking service returned status %d", e.StatusCode)
}
