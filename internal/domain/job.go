package domain

import (
	"strings"
	"time"
)

// Modality enumerates the generation workflows accepted by the remote service.
type Modality string

const (
	ModalityTextToImage  Modality = "TEXT_TO_IMAGE"
	ModalityImageToImage Modality = "IMAGE_TO_IMAGE"
	ModalityBatchMatting Modality = "BATCH_MATTING"
	ModalityFaceSwap     Modality = "FACE_SWAP"
)

// Modalities lists every supported modality in display order.
var Modalities = []Modality{
	ModalityTextToImage,
	ModalityImageToImage,
	ModalityBatchMatting,
	ModalityFaceSwap,
}

// Valid reports whether m is one of the known modalities.
func (m Modality) Valid() bool {
	switch m {
	case ModalityTextToImage, ModalityImageToImage, ModalityBatchMatting, ModalityFaceSwap:
		return true
	}
	return false
}

// TemplateType maps the modality onto the numeric category used by prompt templates.
func (m Modality) TemplateType() int {
	switch m {
	case ModalityTextToImage:
		return 1
	case ModalityImageToImage:
		return 2
	case ModalityBatchMatting:
		return 3
	case ModalityFaceSwap:
		return 4
	}
	return 0
}

// ParseModality accepts wire values as well as the short CLI aliases.
func ParseModality(s string) (Modality, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text_to_image", "t2i", "text-to-image":
		return ModalityTextToImage, true
	case "image_to_image", "i2i", "image-to-image":
		return ModalityImageToImage, true
	case "batch_matting", "matting", "batch-matting":
		return ModalityBatchMatting, true
	case "face_swap", "faceswap", "face-swap":
		return ModalityFaceSwap, true
	}
	return "", false
}

// JobStatus enumerates job lifecycle states. Only the server mutates it.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the client view of one submitted generation request.
type Job struct {
	ID           string
	UserID       string
	Modality     Modality
	Prompt       string
	ImageURL     string
	ResultURL    string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential is an opaque bearer token issued after a successful login.
type Credential string

// String hides the token value from accidental logging.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "***"
}
