package overlay

import (
	iface "PoseStyler/interface"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func pixel(t *testing.T, m gocv.Mat, x, y int) []byte {
	t.Helper()
	buf := m.ToBytes()
	ch := m.Channels()
	i := (y*m.Cols() + x) * ch
	require.True(t, i+ch <= len(buf))
	return buf[i : i+ch]
}

func snapshotPixel(t *testing.T, c *Canvas, x, y int) []byte {
	t.Helper()
	snap, err := c.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	return append([]byte(nil), pixel(t, snap, x, y)...)
}

func TestNewCanvas(t *testing.T) {
	c, err := NewCanvas(500, 400)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, image.Pt(500, 400), c.Size())
	assert.Equal(t, []byte{0, 0, 0}, snapshotPixel(t, c, 10, 10))

	_, err = NewCanvas(0, 10)
	assert.Error(t, err)
}

func TestCanvas_Draw(t *testing.T) {
	c, err := NewCanvas(50, 50)
	require.NoError(t, err)
	defer c.Close()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 100, 80, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.NoError(t, c.Draw(img))
	assert.Equal(t, image.Pt(50, 50), c.Size(), "drawn image is resized to the canvas")
	assert.Equal(t, []byte{10, 20, 30}, snapshotPixel(t, c, 25, 25))

	empty := gocv.NewMat()
	defer empty.Close()
	assert.ErrorIs(t, c.Draw(empty), iface.ErrEmptyImage)
}

func TestCanvas_ExtractOutOfBounds(t *testing.T) {
	c, err := NewCanvas(20, 20)
	require.NoError(t, err)
	defer c.Close()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 60, 70, 0), 20, 20, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.NoError(t, c.Draw(img))

	region, err := c.Extract(image.Rect(-5, -5, 5, 5))
	require.NoError(t, err)
	defer region.Close()
	assert.Equal(t, 10, region.Cols())
	assert.Equal(t, 10, region.Rows())
	assert.Equal(t, 4, region.Channels())
	assert.Equal(t, []byte{0, 0, 0, 0}, pixel(t, region, 0, 0), "outside the canvas is transparent")
	assert.Equal(t, []byte{50, 60, 70, 255}, pixel(t, region, 7, 7))

	_, err = c.Extract(image.Rect(3, 3, 3, 8))
	assert.Error(t, err)
}

func TestCanvas_MaskAndComposite(t *testing.T) {
	c, err := NewCanvas(40, 40)
	require.NoError(t, err)
	defer c.Close()

	// opaque red BGRA square
	red := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 255, 255), 10, 10, gocv.MatTypeCV8UC4)
	defer red.Close()
	require.NoError(t, c.Composite(red, image.Rect(5, 5, 25, 25)))
	assert.Equal(t, []byte{0, 0, 255}, snapshotPixel(t, c, 15, 15))
	assert.Equal(t, []byte{0, 0, 0}, snapshotPixel(t, c, 30, 30))

	// partially off-canvas composite is clipped, not an error
	require.NoError(t, c.Composite(red, image.Rect(35, 35, 45, 45)))
	assert.Equal(t, []byte{0, 0, 255}, snapshotPixel(t, c, 38, 38))

	region, err := c.Extract(image.Rect(10, 10, 20, 20))
	require.NoError(t, err)
	defer region.Close()
	transparent := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC1)
	defer transparent.Close()
	require.NoError(t, c.Mask(&region, transparent))
	assert.Equal(t, uint8(0), pixel(t, region, 5, 5)[3])

	notBGRA := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer notBGRA.Close()
	assert.Error(t, c.Mask(&notBGRA, transparent))
}

func TestCanvas_FillEllipse(t *testing.T) {
	c, err := NewCanvas(60, 60)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.FillEllipse(image.Pt(30, 30), image.Pt(20, 10), color.RGBA{R: 255, A: 255}))
	assert.Equal(t, []byte{0, 0, 255}, snapshotPixel(t, c, 30, 30))
	assert.Equal(t, []byte{0, 0, 0}, snapshotPixel(t, c, 30, 45), "outside the ellipse")

	require.NoError(t, c.FillEllipse(image.Pt(30, 30), image.Pt(0, 10), BlushColor))
}

func assertBGR(t *testing.T, want []int, got []byte) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], int(got[i]), 1, "channel %d", i)
	}
}

func TestCanvas_CompositeHalfAlpha(t *testing.T) {
	c, err := NewCanvas(20, 20)
	require.NoError(t, err)
	defer c.Close()
	bg := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 200, 0, 0), 20, 20, gocv.MatTypeCV8UC3)
	defer bg.Close()
	require.NoError(t, c.Draw(bg))

	// 128/255 的白色覆盖在绿色上
	white := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 128), 4, 4, gocv.MatTypeCV8UC4)
	defer white.Close()
	require.NoError(t, c.Composite(white, image.Rect(0, 0, 10, 10)))
	assertBGR(t, []int{128, 227, 128}, snapshotPixel(t, c, 5, 5))
	assert.Equal(t, []byte{0, 200, 0}, snapshotPixel(t, c, 15, 15), "outside the target untouched")

	// 完全透明的像素不改变画布
	invisible := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(9, 9, 9, 0), 4, 4, gocv.MatTypeCV8UC4)
	defer invisible.Close()
	require.NoError(t, c.Composite(invisible, image.Rect(10, 10, 20, 20)))
	assert.Equal(t, []byte{0, 200, 0}, snapshotPixel(t, c, 15, 15))
}

func TestCanvas_MaskAlphaChannels(t *testing.T) {
	c, err := NewCanvas(10, 10)
	require.NoError(t, err)
	defer c.Close()

	newRegion := func() gocv.Mat {
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 200), 4, 4, gocv.MatTypeCV8UC4)
	}

	t.Run("Test alpha mask", func(t *testing.T) {
		region := newRegion()
		defer region.Close()
		mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(9, 9, 9, 255), 4, 4, gocv.MatTypeCV8UC4)
		defer mask.Close()
		require.NoError(t, c.Mask(&region, mask))
		assert.Equal(t, []byte{1, 2, 3, 200}, pixel(t, region, 2, 2), "colour channels untouched")
	})

	t.Run("Test gray mask", func(t *testing.T) {
		region := newRegion()
		defer region.Close()
		mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC1)
		defer mask.Close()
		require.NoError(t, c.Mask(&region, mask))
		assert.Equal(t, uint8(200), pixel(t, region, 1, 1)[3])
	})

	t.Run("Test colour mask", func(t *testing.T) {
		region := newRegion()
		defer region.Close()
		mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 4, 4, gocv.MatTypeCV8UC3)
		defer mask.Close()
		require.NoError(t, c.Mask(&region, mask))
		assert.Equal(t, uint8(200), pixel(t, region, 1, 1)[3])

		black := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
		defer black.Close()
		require.NoError(t, c.Mask(&region, black))
		assert.Equal(t, uint8(0), pixel(t, region, 1, 1)[3])
	})
}

func TestCanvas_Blush(t *testing.T) {
	c, err := NewCanvas(60, 60)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.FillEllipse(image.Pt(30, 30), image.Pt(20, 10), BlushColor))
	a := int(BlushColor.A)
	assertBGR(t, []int{int(BlushColor.B) * a / 255, int(BlushColor.G) * a / 255, int(BlushColor.R) * a / 255},
		snapshotPixel(t, c, 30, 30))
	assert.Equal(t, []byte{0, 0, 0}, snapshotPixel(t, c, 5, 5))
}

func TestCanvas_SnapshotIsIndependent(t *testing.T) {
	c, err := NewCanvas(10, 10)
	require.NoError(t, err)
	defer c.Close()

	snap, err := c.Snapshot()
	require.NoError(t, err)
	defer snap.Close()
	require.NoError(t, c.Circle(image.Pt(5, 5), 3, pointFill, pointStroke, 1))
	assert.Equal(t, []byte{0, 0, 0}, pixel(t, snap, 5, 5))
	assert.NotEqual(t, []byte{0, 0, 0}, snapshotPixel(t, c, 5, 5))
}
