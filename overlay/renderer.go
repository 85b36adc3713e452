package overlay

import (
	iface "PoseStyler/interface"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"time"

	"gocv.io/x/gocv"
)

var (
	BlushColor  = color.RGBA{R: 255, G: 132, B: 183, A: 100}
	pointFill   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	pointStroke = color.RGBA{R: 20, G: 20, B: 20, A: 255}
)

// box is a float rectangle in canvas pixels.
type box struct {
	X, Y, W, H float64
}

func (b box) rect() image.Rectangle {
	x := int(math.Round(b.X))
	y := int(math.Round(b.Y))
	return image.Rect(x, y, x+int(math.Round(b.W)), y+int(math.Round(b.H)))
}

func roundPt(x, y float64) image.Point {
	return image.Pt(int(math.Round(x)), int(math.Round(y)))
}

// eyeRegions 返回眼部取样区域（d × d/2）和放大 1.5 倍后的贴回区域
func eyeRegions(eye, nose iface.Keypoint) (src, dst box) {
	d := math.Abs(nose.Position.X-eye.Position.X) + 10
	src = box{X: eye.Position.X - d/2, Y: eye.Position.Y - d/4, W: d, H: d / 2}
	dst = box{X: eye.Position.X - d*1.5/2, Y: eye.Position.Y - d/2, W: d * 1.5, H: d}
	return src, dst
}

// blushEllipse returns the ellipse centre and full width/height for a cheek.
func blushEllipse(eye, nose iface.Keypoint) (center iface.Position, w, h float64) {
	d := nose.Position.X - eye.Position.X
	center = iface.Position{X: eye.Position.X - d/2, Y: eye.Position.Y + math.Abs(d*0.8)}
	return center, math.Abs(d * 1.2), math.Abs(d * 0.7)
}

// Renderer draws the face decorations. It is not safe for concurrent use
// because sparkle jitter shares one random source.
type Renderer struct {
	Sparkle     gocv.Mat
	EyeFilter   gocv.Mat
	DebugPoints bool

	rnd *rand.Rand
}

// NewRenderer 使用给定素材创建渲染器，seed 为 0 时按当前时间取随机种子
func NewRenderer(sparkle, eyeFilter gocv.Mat, seed int64) *Renderer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Renderer{
		Sparkle:   sparkle,
		EyeFilter: eyeFilter,
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// LoadRenderer reads the sparkle and eye filter PNGs with their alpha channel.
func LoadRenderer(sparklePath, eyeFilterPath string, seed int64) (*Renderer, error) {
	sparkle := gocv.IMRead(sparklePath, gocv.IMReadUnchanged)
	if sparkle.Empty() {
		sparkle.Close()
		return nil, fmt.Errorf("failed to read sparkle asset %s: %w", sparklePath, iface.ErrEmptyImage)
	}
	filter := gocv.IMRead(eyeFilterPath, gocv.IMReadUnchanged)
	if filter.Empty() {
		sparkle.Close()
		filter.Close()
		return nil, fmt.Errorf("failed to read eye filter asset %s: %w", eyeFilterPath, iface.ErrEmptyImage)
	}
	return NewRenderer(sparkle, filter, seed), nil
}

func (r *Renderer) jitter(lo, hi float64) float64 {
	return lo + r.rnd.Float64()*(hi-lo)
}

// DrawKeypoints decorates every pose. Only nose and eyes are consumed.
func (r *Renderer) DrawKeypoints(c iface.Canvas, result iface.DetectionResult) error {
	for _, pose := range result {
		nose := pose.Keypoint(iface.Nose)
		leftEye := pose.Keypoint(iface.LeftEye)
		rightEye := pose.Keypoint(iface.RightEye)

		if err := r.DrawEye(c, leftEye, nose); err != nil {
			return fmt.Errorf("left eye: %w", err)
		}
		if err := r.DrawEye(c, rightEye, nose); err != nil {
			return fmt.Errorf("right eye: %w", err)
		}
		if err := r.DrawBlush(c, leftEye, nose); err != nil {
			return fmt.Errorf("left blush: %w", err)
		}
		if err := r.DrawBlush(c, rightEye, nose); err != nil {
			return fmt.Errorf("right blush: %w", err)
		}
		if err := r.DrawSparkles(c, nose); err != nil {
			return fmt.Errorf("sparkles: %w", err)
		}
		if r.DebugPoints {
			if err := r.DrawPoints(c, pose); err != nil {
				return fmt.Errorf("points: %w", err)
			}
		}
	}
	return nil
}

// DrawEye enlarges the eye area through the eye filter mask.
func (r *Renderer) DrawEye(c iface.Canvas, eye, nose iface.Keypoint) error {
	if !eye.Visible() {
		return nil
	}
	src, dst := eyeRegions(eye, nose)
	region, err := c.Extract(src.rect())
	if err != nil {
		return err
	}
	defer region.Close()
	if err := c.Mask(&region, r.EyeFilter); err != nil {
		return err
	}
	return c.Composite(region, dst.rect())
}

func (r *Renderer) DrawBlush(c iface.Canvas, eye, nose iface.Keypoint) error {
	if !eye.Visible() {
		return nil
	}
	center, w, h := blushEllipse(eye, nose)
	return c.FillEllipse(roundPt(center.X, center.Y), roundPt(w, h), BlushColor)
}

// DrawSparkles composites three sparkles around the nose with random jitter,
// so the output is not reproducible unless the renderer was seeded.
func (r *Renderer) DrawSparkles(c iface.Canvas, nose iface.Keypoint) error {
	if !nose.Visible() {
		return nil
	}
	size := c.Size()
	w := float64(size.X) / 3
	h := float64(size.Y) / 3
	x, y := nose.Position.X, nose.Position.Y
	spots := [3]box{
		{X: x + r.jitter(-20, 20), Y: y + r.jitter(-20, 20), W: w, H: h},
		{X: x - w + r.jitter(-20, 20), Y: y + r.jitter(-40, 20), W: w, H: h},
		{X: x - w/2 + r.jitter(-20, 20), Y: y/3 - h/2 + r.jitter(-40, 20), W: w, H: h},
	}
	for _, s := range spots {
		if err := c.Composite(r.Sparkle, s.rect()); err != nil {
			return err
		}
	}
	return nil
}

// DrawPoints marks every visible keypoint; used for debugging detections.
func (r *Renderer) DrawPoints(c iface.Canvas, pose iface.Pose) error {
	for _, kp := range pose.Keypoints {
		if !kp.Visible() {
			continue
		}
		if err := c.Circle(roundPt(kp.Position.X, kp.Position.Y), 4, pointFill, pointStroke, 4); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) Close() {
	_ = r.Sparkle.Close()
	_ = r.EyeFilter.Close()
}
