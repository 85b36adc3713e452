package engine

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"PoseStyler/monitor"
	"context"
	"fmt"
	"image"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// StyleNet applies a fast neural style model (Torch .t7 or ONNX) to an image.
type StyleNet struct {
	ModelPath string

	net    gocv.Net
	loaded bool
	state  atomic.Int32
	ready  chan struct{}
	w      *worker
}

// NewStyleNet 创建风格迁移器，模型在 worker 上异步加载
func NewStyleNet(modelPath string) (*StyleNet, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	s := &StyleNet{
		ModelPath: modelPath,
		ready:     make(chan struct{}),
		w:         newWorker("stylenet", 2),
	}
	s.state.Store(REGISTERED)
	if err := s.w.post(s.load); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StyleNet) load() {
	if _, err := os.Stat(s.ModelPath); err != nil {
		s.state.Store(ERROR)
		monitor.ProviderErrors.WithLabelValues("style").Inc()
		logger.Log().Error("style model not found", zap.String("ModelPath", s.ModelPath), zap.Error(err))
		return
	}
	net := gocv.ReadNet(s.ModelPath, "")
	if net.Empty() {
		s.state.Store(ERROR)
		monitor.ProviderErrors.WithLabelValues("style").Inc()
		logger.Log().Error("failed to load style model", zap.String("ModelPath", s.ModelPath))
		return
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	s.net = net
	s.loaded = true
	s.state.Store(IDLE)
	logger.Log().Info("style model loaded", zap.String("ModelPath", s.ModelPath))
	close(s.ready)
}

func (s *StyleNet) State() int {
	return int(s.state.Load())
}

func (s *StyleNet) Ready() <-chan struct{} {
	return s.ready
}

// Transfer 返回与输入同尺寸的风格化图像，调用方负责 Close
func (s *StyleNet) Transfer(ctx context.Context, img gocv.Mat) (gocv.Mat, error) {
	switch s.State() {
	case UNREGISTERED:
		return gocv.NewMat(), iface.ErrProviderClosed
	case REGISTERED, ERROR:
		return gocv.NewMat(), iface.ErrNotReady
	}
	if img.Empty() {
		return gocv.NewMat(), iface.ErrEmptyImage
	}
	src := img.Clone()
	styled, err := doResult(ctx, s.w,
		func() (gocv.Mat, error) { return s.stylize(src) },
		func() { _ = src.Close() },
		func(m gocv.Mat) { _ = m.Close() })
	if err != nil {
		monitor.ProviderErrors.WithLabelValues("style").Inc()
		return gocv.NewMat(), err
	}
	return styled, nil
}

func (s *StyleNet) stylize(img gocv.Mat) (gocv.Mat, error) {
	blob := gocv.BlobFromImage(img, 1.0, image.Pt(img.Cols(), img.Rows()),
		gocv.NewScalar(styleMean[0], styleMean[1], styleMean[2], 0), false, false)
	defer blob.Close()
	s.net.SetInput(blob, "")
	prob := s.net.Forward("")
	defer prob.Close()

	sz := prob.Size()
	if len(sz) != 4 || sz[1] != 3 {
		return gocv.NewMat(), fmt.Errorf("unexpected style output shape %v", sz)
	}
	data, err := prob.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("read style output: %w", err)
	}
	buf, err := planarToBGR(data, sz[2], sz[3])
	if err != nil {
		return gocv.NewMat(), err
	}
	view, err := gocv.NewMatFromBytes(sz[2], sz[3], gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("build style output: %w", err)
	}
	out := view.Clone()
	view.Close()
	if out.Cols() != img.Cols() || out.Rows() != img.Rows() {
		resized := gocv.NewMat()
		gocv.Resize(out, &resized, image.Pt(img.Cols(), img.Rows()), 0, 0, gocv.InterpolationLinear)
		out.Close()
		out = resized
	}
	return out, nil
}

func (s *StyleNet) Close() error {
	if s.state.Swap(UNREGISTERED) == UNREGISTERED {
		return nil
	}
	err := s.w.do(context.Background(), func() error {
		if !s.loaded {
			return nil
		}
		s.loaded = false
		return s.net.Close()
	})
	s.w.stop()
	return err
}
