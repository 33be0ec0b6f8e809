// Package ocr runs text extraction jobs through the governor. Single images
// and bulk scans are classified into priority tiers, wait for a slot, and
// then run the engine call on the CPU worker pool.
package ocr

import (
	"context"
	"errors"
)

var (
	// ErrNoImages is returned for an empty bulk scan
	ErrNoImages = errors.New("no images to scan")
	// ErrAllItemsFailed is returned when no image of a scan produced text
	ErrAllItemsFailed = errors.New("ocr failed for every image")
)

// Image is one input file.
type Image struct {
	Name string
	Data []byte
}

// Result is the engine's answer for one image.
type Result struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine extracts text from an image. Implementations are CPU-bound and are
// only called from worker pool goroutines.
type Engine interface {
	PerformOCR(ctx context.Context, img Image) (Result, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img Image) (Result, error)

// PerformOCR implements Engine
func (f EngineFunc) PerformOCR(ctx context.Context, img Image) (Result, error) {
	return f(ctx, img)
}
