package iface

import (
	"context"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// KeypointProvider detects poses. Results are pushed on Events after
// SinglePose is called; Ready is closed once the model is loaded.
type KeypointProvider interface {
	Configure(opts PoseOptions) error
	Ready() <-chan struct{}
	Events() <-chan PoseEvent
	SinglePose(img gocv.Mat) error
	Close() error
}

type StyleProvider interface {
	Ready() <-chan struct{}
	Transfer(ctx context.Context, img gocv.Mat) (gocv.Mat, error)
	Close() error
}

type ImageSource interface {
	Load(ctx context.Context) (gocv.Mat, error)
}

// Canvas is the mutable drawing surface the overlay renderer writes to.
type Canvas interface {
	Size() image.Point
	// Draw scales img onto the whole canvas.
	Draw(img gocv.Mat) error
	// Extract copies a region of the canvas as BGRA. Out of bounds pixels are transparent.
	Extract(r image.Rectangle) (gocv.Mat, error)
	// Mask multiplies the alpha channel of region by the alpha of mask.
	Mask(region *gocv.Mat, mask gocv.Mat) error
	// Composite alpha-blends img, scaled to dst, onto the canvas.
	Composite(img gocv.Mat, dst image.Rectangle) error
	FillEllipse(center image.Point, size image.Point, c color.RGBA) error
	Circle(center image.Point, radius int, fill, stroke color.RGBA, strokeWidth int) error
	Snapshot() (gocv.Mat, error)
}

type Display interface {
	ShowEdited(img gocv.Mat) error
	ShowResult(img gocv.Mat) error
}

type StatusSink interface {
	SetStatus(msg string)
}
