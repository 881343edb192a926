// Package deferred holds the single action that was blocked on a missing login.
package deferred

import (
	"fmt"

	"github.com/xprocessing/neoaigc/internal/domain"
)

// File is a staged upload. The bytes are captured at staging time so a replay
// sends exactly what the user picked.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type TextToImage struct {
	Prompt   string
	Provider string
}

type ImageToImage struct {
	Image    File
	Prompt   string
	Provider string
}

type BatchMatting struct {
	Images   []File
	Provider string
}

type FaceSwap struct {
	Model             File
	Face              File
	EnhanceBackground bool
	Provider          string
}

// PendingAction is a tagged union: Modality selects which one variant is set.
type PendingAction struct {
	Modality     domain.Modality
	TextToImage  *TextToImage
	ImageToImage *ImageToImage
	BatchMatting *BatchMatting
	FaceSwap     *FaceSwap
}

func NewTextToImage(in TextToImage) PendingAction {
	return PendingAction{Modality: domain.ModalityTextToImage, TextToImage: &in}
}

func NewImageToImage(in ImageToImage) PendingAction {
	return PendingAction{Modality: domain.ModalityImageToImage, ImageToImage: &in}
}

func NewBatchMatting(in BatchMatting) PendingAction {
	in.Images = append([]File(nil), in.Images...)
	return PendingAction{Modality: domain.ModalityBatchMatting, BatchMatting: &in}
}

func NewFaceSwap(in FaceSwap) PendingAction {
	return PendingAction{Modality: domain.ModalityFaceSwap, FaceSwap: &in}
}

// Validate checks that exactly the variant named by the tag is populated.
func (a PendingAction) Validate() error {
	set := 0
	for _, present := range []bool{a.TextToImage != nil, a.ImageToImage != nil, a.BatchMatting != nil, a.FaceSwap != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("deferred: %w: action must carry exactly one variant, got %d", domain.ErrValidation, set)
	}
	var ok bool
	switch a.Modality {
	case domain.ModalityTextToImage:
		ok = a.TextToImage != nil
	case domain.ModalityImageToImage:
		ok = a.ImageToImage != nil
	case domain.ModalityBatchMatting:
		ok = a.BatchMatting != nil
	case domain.ModalityFaceSwap:
		ok = a.FaceSwap != nil
	}
	if !ok {
		return fmt.Errorf("deferred: %w: tag %q does not match payload", domain.ErrValidation, a.Modality)
	}
	return nil
}
