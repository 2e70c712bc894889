package workflow

import "github.com/example/pii-mask/internal/handles"

// Status is the coarse phase of the current attempt.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

const (
	// DefaultResultName is used when the service gives no usable filename hint.
	DefaultResultName = "masked_image.png"

	MessageNoFileSelected   = "Please select an image file."
	MessageProcessingFailed = "Failed to process image."
	MessageTimedOut         = "Masking service did not respond in time."
	MessageStoreFailed      = "Failed to keep the masked image."
)

// SelectedFile is the user's input image.
type SelectedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Artifact is the processed image of a successful attempt.
type Artifact struct {
	Handle      handles.Handle `json:"handle"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type"`
	Size        int            `json:"size"`
}

// FileInfo describes the selected file without its bytes.
type FileInfo struct {
	Name        string         `json:"name"`
	ContentType string         `json:"content_type"`
	Size        int            `json:"size"`
	Preview     handles.Handle `json:"preview,omitempty"`
}

// Snapshot is a read-only copy of everything a renderer needs.
type Snapshot struct {
	Status Status    `json:"status"`
	Error  string    `json:"error,omitempty"`
	File   *FileInfo `json:"file,omitempty"`
	Result *Artifact `json:"result,omitempty"`
}
