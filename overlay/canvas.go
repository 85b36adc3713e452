package overlay

import (
	iface "PoseStyler/interface"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Canvas is an 8-bit BGR gocv surface implementing iface.Canvas.
type Canvas struct {
	mat gocv.Mat
}

func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("canvas size must be positive, got %dx%d", width, height)
	}
	return &Canvas{mat: gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)}, nil
}

func (c *Canvas) Size() image.Point {
	return image.Pt(c.mat.Cols(), c.mat.Rows())
}

func (c *Canvas) bounds() image.Rectangle {
	return image.Rectangle{Max: c.Size()}
}

// convert 把任意 1/3/4 通道图像转换成目标通道数
func convert(img gocv.Mat, channels int) (gocv.Mat, error) {
	out := gocv.NewMat()
	switch {
	case img.Channels() == channels:
		img.CopyTo(&out)
	case img.Channels() == 1 && channels == 3:
		gocv.CvtColor(img, &out, gocv.ColorGrayToBGR)
	case img.Channels() == 1 && channels == 4:
		gocv.CvtColor(img, &out, gocv.ColorGrayToBGRA)
	case img.Channels() == 3 && channels == 4:
		gocv.CvtColor(img, &out, gocv.ColorBGRToBGRA)
	case img.Channels() == 4 && channels == 3:
		gocv.CvtColor(img, &out, gocv.ColorBGRAToBGR)
	default:
		out.Close()
		return gocv.NewMat(), fmt.Errorf("cannot convert %d channels to %d", img.Channels(), channels)
	}
	return out, nil
}

func resizeTo(img gocv.Mat, size image.Point) gocv.Mat {
	out := gocv.NewMat()
	if img.Cols() == size.X && img.Rows() == size.Y {
		img.CopyTo(&out)
		return out
	}
	gocv.Resize(img, &out, size, 0, 0, gocv.InterpolationLinear)
	return out
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		_ = mats[i].Close()
	}
}

// maskAlpha 取遮罩的不透明度平面：4 通道用 alpha，3 通道转灰度，单通道直接用
func maskAlpha(mask gocv.Mat) (gocv.Mat, error) {
	switch mask.Channels() {
	case 4:
		planes := gocv.Split(mask)
		defer closeAll(planes)
		return planes[3].Clone(), nil
	case 3:
		gray := gocv.NewMat()
		gocv.CvtColor(mask, &gray, gocv.ColorBGRToGray)
		return gray, nil
	case 1:
		return mask.Clone(), nil
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported mask channels: %d", mask.Channels())
	}
}

// alphaBlend 计算 dst = src*alpha + dst*(255-alpha)，alpha 为单通道平面。
// dst 可以是 Region 视图，结果原地写回
func alphaBlend(dst *gocv.Mat, src, alpha gocv.Mat) {
	a := gocv.NewMat()
	defer a.Close()
	gocv.Merge([]gocv.Mat{alpha, alpha, alpha}, &a)
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.BitwiseNot(a, &inv)

	fg := gocv.NewMat()
	defer fg.Close()
	gocv.MultiplyWithParams(src, a, &fg, 1.0/255, -1)
	bg := gocv.NewMat()
	defer bg.Close()
	gocv.MultiplyWithParams(*dst, inv, &bg, 1.0/255, -1)

	out := gocv.NewMat()
	defer out.Close()
	gocv.Add(fg, bg, &out)
	out.CopyTo(dst)
}

func (c *Canvas) Draw(img gocv.Mat) error {
	if img.Empty() {
		return iface.ErrEmptyImage
	}
	bgr, err := convert(img, 3)
	if err != nil {
		return err
	}
	defer bgr.Close()
	resized := resizeTo(bgr, c.Size())
	defer resized.Close()
	resized.CopyTo(&c.mat)
	return nil
}

func (c *Canvas) Extract(r image.Rectangle) (gocv.Mat, error) {
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return gocv.NewMat(), fmt.Errorf("empty extract region %v", r)
	}
	out := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), r.Dy(), r.Dx(), gocv.MatTypeCV8UC4)
	clip := r.Intersect(c.bounds())
	if clip.Empty() {
		return out, nil
	}
	sub := c.mat.Region(clip)
	defer sub.Close()
	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.CvtColor(sub, &bgra, gocv.ColorBGRToBGRA)
	dst := out.Region(clip.Sub(r.Min))
	defer dst.Close()
	bgra.CopyTo(&dst)
	return out, nil
}

func (c *Canvas) Mask(region *gocv.Mat, mask gocv.Mat) error {
	if region.Channels() != 4 {
		return fmt.Errorf("mask target must be BGRA, got %d channels", region.Channels())
	}
	if mask.Empty() {
		return iface.ErrEmptyImage
	}
	resized := resizeTo(mask, image.Pt(region.Cols(), region.Rows()))
	defer resized.Close()
	m, err := maskAlpha(resized)
	if err != nil {
		return err
	}
	defer m.Close()

	planes := gocv.Split(*region)
	defer closeAll(planes)
	alpha := gocv.NewMat()
	defer alpha.Close()
	gocv.MultiplyWithParams(planes[3], m, &alpha, 1.0/255, -1)
	alpha.CopyTo(&planes[3])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(planes, &merged)
	merged.CopyTo(region)
	return nil
}

func (c *Canvas) Composite(img gocv.Mat, dst image.Rectangle) error {
	if img.Empty() {
		return iface.ErrEmptyImage
	}
	if dst.Dx() <= 0 || dst.Dy() <= 0 {
		return nil
	}
	clip := dst.Intersect(c.bounds())
	if clip.Empty() {
		return nil
	}
	bgra, err := convert(img, 4)
	if err != nil {
		return err
	}
	defer bgra.Close()
	scaled := resizeTo(bgra, dst.Size())
	defer scaled.Close()

	src := scaled.Region(clip.Sub(dst.Min))
	defer src.Close()
	planes := gocv.Split(src)
	defer closeAll(planes)
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.Merge(planes[:3], &bgr)

	target := c.mat.Region(clip)
	defer target.Close()
	alphaBlend(&target, bgr, planes[3])
	return nil
}

func (c *Canvas) FillEllipse(center image.Point, size image.Point, col color.RGBA) error {
	if size.X <= 0 || size.Y <= 0 {
		return nil
	}
	// coverage 的值即颜色的 alpha，椭圆外为 0，原像素保持不变
	coverage := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), c.mat.Rows(), c.mat.Cols(), gocv.MatTypeCV8U)
	defer coverage.Close()
	axes := image.Pt(size.X/2, size.Y/2)
	gocv.Ellipse(&coverage, center, axes, 0, 0, 360, color.RGBA{R: col.A, G: col.A, B: col.A, A: col.A}, -1)

	fill := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(col.B), float64(col.G), float64(col.R), 0),
		c.mat.Rows(), c.mat.Cols(), gocv.MatTypeCV8UC3)
	defer fill.Close()
	alphaBlend(&c.mat, fill, coverage)
	return nil
}

func (c *Canvas) Circle(center image.Point, radius int, fill, stroke color.RGBA, strokeWidth int) error {
	gocv.Circle(&c.mat, center, radius, fill, -1)
	if strokeWidth > 0 {
		gocv.Circle(&c.mat, center, radius, stroke, strokeWidth)
	}
	return nil
}

// Snapshot 返回画布的独立副本
func (c *Canvas) Snapshot() (gocv.Mat, error) {
	if c.mat.Empty() {
		return gocv.NewMat(), iface.ErrEmptyImage
	}
	return c.mat.Clone(), nil
}

func (c *Canvas) Close() error {
	return c.mat.Close()
}
