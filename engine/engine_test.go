package engine

import (
	iface "PoseStyler/interface"
	"context"
	"errors"
	"image"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestPartIndices(t *testing.T) {
	t.Run("Test identity", func(t *testing.T) {
		order, err := partIndices(nil)
		require.NoError(t, err)
		assert.Len(t, order, iface.KeypointCount)
		assert.Equal(t, iface.RightEye, order[2])
	})

	t.Run("Test named channels", func(t *testing.T) {
		order, err := partIndices([]string{"rightEye", "-", "nose"})
		require.NoError(t, err)
		assert.Equal(t, []int{iface.RightEye, -1, iface.Nose}, order)
	})

	t.Run("Test unknown name", func(t *testing.T) {
		_, err := partIndices([]string{"neck"})
		assert.Error(t, err)
	})
}

func TestDecodeHeatmaps(t *testing.T) {
	// 3 channels, 4x4 heatmaps on a 400x200 frame
	const k, h, w = 3, 4, 4
	data := make([]float32, k*h*w)
	data[0*h*w+1*w+2] = 0.9 // nose at (2,1)
	data[1*h*w+3*w+0] = 0.6 // left eye at (0,3)
	data[2*h*w+0*w+3] = 1.7 // right eye clamps to 1

	order, err := partIndices(nil)
	require.NoError(t, err)
	pose, err := decodeHeatmaps(data, []int{1, k, h, w}, image.Pt(400, 200), order)
	require.NoError(t, err)

	require.Len(t, pose.Keypoints, iface.KeypointCount)
	nose := pose.Keypoint(iface.Nose)
	assert.Equal(t, "nose", nose.Part)
	assert.InDelta(t, 250.0, nose.Position.X, 1e-9)
	assert.InDelta(t, 75.0, nose.Position.Y, 1e-9)
	assert.InDelta(t, 0.9, nose.Score, 1e-6)

	left := pose.Keypoint(iface.LeftEye)
	assert.InDelta(t, 50.0, left.Position.X, 1e-9)
	assert.InDelta(t, 175.0, left.Position.Y, 1e-9)

	assert.Equal(t, 1.0, pose.Keypoint(iface.RightEye).Score)
	assert.Equal(t, 0.0, pose.Keypoint(iface.LeftEar).Score)
	assert.InDelta(t, (0.9+0.6+1.0)/3, pose.Score, 1e-6)
}

func TestDecodeHeatmaps_BadShape(t *testing.T) {
	_, err := decodeHeatmaps(make([]float32, 4), []int{1, 2, 2}, image.Pt(10, 10), nil)
	assert.Error(t, err)
	_, err = decodeHeatmaps(make([]float32, 4), []int{1, 2, 2, 2}, image.Pt(10, 10), nil)
	assert.Error(t, err)
}

func TestFilterPoses(t *testing.T) {
	poses := iface.DetectionResult{{Score: 0.05}, {Score: 0.4}, {Score: 0.8}, {Score: 0.3}}
	kept := filterPoses(poses, iface.PoseOptions{MinConfidence: 0.1, MaxDetections: 2})
	require.Len(t, kept, 2)
	assert.Equal(t, 0.8, kept[0].Score)
	assert.Equal(t, 0.4, kept[1].Score)

	assert.Empty(t, filterPoses(iface.DetectionResult{{Score: 0.05}}, iface.PoseOptions{MinConfidence: 0.1}))
}

func TestPlanarToBGR(t *testing.T) {
	// 1x2 image, planes B, G, R
	data := []float32{
		0, -200,
		10, 500,
		-123.68, 1,
	}
	buf, err := planarToBGR(data, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{103, 126, 0, 0, 255, 124}, buf)

	_, err = planarToBGR(data[:5], 1, 2)
	assert.Error(t, err)
}

func TestWorker(t *testing.T) {
	w := newWorker("test", 1)
	defer w.stop()

	t.Run("Test do", func(t *testing.T) {
		calls := 0
		err := w.do(context.Background(), func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Test do error", func(t *testing.T) {
		boom := errors.New("boom")
		assert.ErrorIs(t, w.do(context.Background(), func() error { return boom }), boom)
	})

	t.Run("Test panic recovered", func(t *testing.T) {
		err := w.do(context.Background(), func() error { panic("bad model") })
		assert.ErrorContains(t, err, "bad model")
		// worker still serves jobs afterwards
		assert.NoError(t, w.do(context.Background(), func() error { return nil }))
	})

	t.Run("Test post", func(t *testing.T) {
		done := make(chan struct{})
		require.NoError(t, w.post(func() { close(done) }))
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("posted job never ran")
		}
	})

	t.Run("Test context cancelled", func(t *testing.T) {
		release := make(chan struct{})
		require.NoError(t, w.post(func() { <-release }))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		err := w.do(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
	})
}

func TestDoResult(t *testing.T) {
	w := newWorker("result", 2)
	defer w.stop()

	t.Run("Test result handed over", func(t *testing.T) {
		var cleaned, released atomic.Int32
		out, err := doResult(context.Background(), w,
			func() (int, error) { return 7, nil },
			func() { cleaned.Add(1) },
			func(int) { released.Add(1) })
		require.NoError(t, err)
		assert.Equal(t, 7, out)
		assert.Equal(t, int32(1), cleaned.Load())
		assert.Equal(t, int32(0), released.Load())
	})

	t.Run("Test late result released", func(t *testing.T) {
		var cleaned, released atomic.Int32
		running := make(chan struct{})
		finish := make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-running
			cancel()
		}()
		_, err := doResult(ctx, w,
			func() (int, error) {
				close(running)
				<-finish
				return 7, nil
			},
			func() { cleaned.Add(1) },
			func(int) { released.Add(1) })
		assert.ErrorIs(t, err, context.Canceled)
		close(finish)
		assert.Eventually(t, func() bool { return released.Load() == 1 && cleaned.Load() == 1 },
			time.Second, 5*time.Millisecond)
	})

	t.Run("Test abandoned before start", func(t *testing.T) {
		var cleaned, calls atomic.Int32
		block := make(chan struct{})
		require.NoError(t, w.post(func() { <-block }))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := doResult(ctx, w,
			func() (int, error) {
				calls.Add(1)
				return 1, nil
			},
			func() { cleaned.Add(1) },
			func(int) {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), cleaned.Load(), "caller cleans up a job that never started")
		close(block)
		// the queued job still drains but must not run fn or clean up twice
		require.NoError(t, w.do(context.Background(), func() error { return nil }))
		assert.Equal(t, int32(0), calls.Load())
		assert.Equal(t, int32(1), cleaned.Load())
	})
}

func TestWorker_Stopped(t *testing.T) {
	w := newWorker("stopped", 0)
	w.stop()
	w.stop()
	assert.ErrorIs(t, w.post(func() {}), iface.ErrProviderClosed)
	assert.ErrorIs(t, w.do(context.Background(), func() error { return nil }), iface.ErrProviderClosed)
}

func waitState(t *testing.T, get func() int, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return get() == want }, 2*time.Second, 10*time.Millisecond)
}

func TestPoseNet_MissingModel(t *testing.T) {
	p, err := NewPoseNet(filepath.Join(t.TempDir(), "missing.onnx"), "", nil)
	require.NoError(t, err)
	defer p.Close()

	waitState(t, p.State, ERROR)
	select {
	case <-p.Ready():
		t.Fatal("ready must not fire when the model fails to load")
	default:
	}

	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()
	assert.ErrorIs(t, p.SinglePose(img), iface.ErrNotReady)
}

func TestPoseNet_Configure(t *testing.T) {
	_, err := NewPoseNet("", "", nil)
	assert.Error(t, err)

	p, err := NewPoseNet(filepath.Join(t.TempDir(), "missing.onnx"), "", nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, DefaultPoseOptions(), p.Options())
	assert.Error(t, p.Configure(iface.PoseOptions{ScaleFactor: 1, MinConfidence: 2}))
	assert.Error(t, p.Configure(iface.PoseOptions{ScaleFactor: 0}))

	require.NoError(t, p.Configure(iface.PoseOptions{ScaleFactor: 0.5, MinConfidence: 0.1}))
	opts := p.Options()
	assert.Equal(t, 1, opts.MaxDetections)
	assert.Equal(t, 257, opts.InputSize)
	assert.Equal(t, 0.5, opts.ScaleFactor)
}

func TestPoseNet_Close(t *testing.T) {
	p, err := NewPoseNet(filepath.Join(t.TempDir(), "missing.onnx"), "", nil)
	require.NoError(t, err)
	waitState(t, p.State, ERROR)

	assert.NoError(t, p.Close())
	assert.Equal(t, UNREGISTERED, p.State())
	assert.NoError(t, p.Close())

	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()
	assert.ErrorIs(t, p.SinglePose(img), iface.ErrProviderClosed)
}

func TestStyleNet_MissingModel(t *testing.T) {
	_, err := NewStyleNet("")
	assert.Error(t, err)

	s, err := NewStyleNet(filepath.Join(t.TempDir(), "missing.t7"))
	require.NoError(t, err)
	waitState(t, s.State, ERROR)

	img := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer img.Close()
	out, err := s.Transfer(context.Background(), img)
	assert.ErrorIs(t, err, iface.ErrNotReady)
	assert.True(t, out.Empty())
	_ = out.Close()

	assert.NoError(t, s.Close())
	_, err = s.Transfer(context.Background(), img)
	assert.ErrorIs(t, err, iface.ErrProviderClosed)
}
