package engine

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"PoseStyler/monitor"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PoseNet is a heatmap pose estimator backed by an OpenCV DNN model.
// The model loads asynchronously; Ready is closed once it succeeds.
type PoseNet struct {
	ModelPath  string
	ConfigPath string

	mu     sync.RWMutex
	opts   iface.PoseOptions
	order  []int
	net    gocv.Net
	loaded bool
	state  atomic.Int32
	ready  chan struct{}
	events chan iface.PoseEvent
	w      *worker
}

func DefaultPoseOptions() iface.PoseOptions {
	return iface.PoseOptions{
		ScaleFactor:   1,
		MinConfidence: 0.1,
		MaxDetections: 2,
		InputSize:     257,
	}
}

// NewPoseNet 创建检测器并在 worker 上开始加载模型
func NewPoseNet(modelPath, configPath string, partOrder []string) (*PoseNet, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	order, err := partIndices(partOrder)
	if err != nil {
		return nil, err
	}
	p := &PoseNet{
		ModelPath:  modelPath,
		ConfigPath: configPath,
		opts:       DefaultPoseOptions(),
		order:      order,
		ready:      make(chan struct{}),
		events:     make(chan iface.PoseEvent, 8),
		w:          newWorker("posenet", 4),
	}
	p.state.Store(REGISTERED)
	if err := p.w.post(p.load); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PoseNet) load() {
	if _, err := os.Stat(p.ModelPath); err != nil {
		p.state.Store(ERROR)
		monitor.ProviderErrors.WithLabelValues("pose").Inc()
		logger.Log().Error("pose model not found", zap.String("ModelPath", p.ModelPath), zap.Error(err))
		return
	}
	net := gocv.ReadNet(p.ModelPath, p.ConfigPath)
	if net.Empty() {
		p.state.Store(ERROR)
		monitor.ProviderErrors.WithLabelValues("pose").Inc()
		logger.Log().Error("failed to load pose model", zap.String("ModelPath", p.ModelPath))
		return
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	p.net = net
	p.loaded = true
	p.state.Store(IDLE)
	logger.Log().Info("pose model loaded", zap.String("ModelPath", p.ModelPath))
	close(p.ready)
}

func (p *PoseNet) Configure(opts iface.PoseOptions) error {
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return fmt.Errorf("minConfidence must be between 0.0 and 1.0, got %f", opts.MinConfidence)
	}
	if opts.ScaleFactor <= 0 || opts.ScaleFactor > 1 {
		return fmt.Errorf("scaleFactor must be in (0.0, 1.0], got %f", opts.ScaleFactor)
	}
	if opts.MaxDetections <= 0 {
		opts.MaxDetections = 1
	}
	if opts.InputSize <= 0 {
		opts.InputSize = DefaultPoseOptions().InputSize
	}
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	return nil
}

func (p *PoseNet) Options() iface.PoseOptions {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

func (p *PoseNet) State() int {
	return int(p.state.Load())
}

func (p *PoseNet) Ready() <-chan struct{} {
	return p.ready
}

func (p *PoseNet) Events() <-chan iface.PoseEvent {
	return p.events
}

// SinglePose 异步检测一次，结果通过 Events 推送
func (p *PoseNet) SinglePose(img gocv.Mat) error {
	switch p.State() {
	case UNREGISTERED:
		return iface.ErrProviderClosed
	case REGISTERED, ERROR:
		return iface.ErrNotReady
	}
	if img.Empty() {
		return iface.ErrEmptyImage
	}
	frame := img.Clone()
	return p.w.post(func() {
		defer frame.Close()
		p.state.CompareAndSwap(IDLE, BUSY)
		result, err := p.estimate(frame)
		p.state.CompareAndSwap(BUSY, IDLE)
		if err != nil {
			monitor.ProviderErrors.WithLabelValues("pose").Inc()
		}
		p.emit(iface.PoseEvent{Result: result, Err: err})
	})
}

func (p *PoseNet) emit(ev iface.PoseEvent) {
	select {
	case p.events <- ev:
	default:
		logger.Log().Warn("pose event dropped, no listener", zap.Int("poses", len(ev.Result)))
	}
}

func (p *PoseNet) estimate(img gocv.Mat) (iface.DetectionResult, error) {
	opts := p.Options()
	size := int(math.Round(float64(opts.InputSize) * opts.ScaleFactor))
	if size < 1 {
		size = 1
	}
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()
	p.net.SetInput(blob, "")
	out := p.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read pose output: %w", err)
	}
	pose, err := decodeHeatmaps(data, out.Size(), image.Pt(img.Cols(), img.Rows()), p.order)
	if err != nil {
		return nil, err
	}
	return filterPoses(iface.DetectionResult{pose}, opts), nil
}

// filterPoses 丢弃低于 MinConfidence 的姿态，按分数降序保留至多 MaxDetections 个
func filterPoses(poses iface.DetectionResult, opts iface.PoseOptions) iface.DetectionResult {
	kept := make(iface.DetectionResult, 0, len(poses))
	for _, pose := range poses {
		if pose.Score >= opts.MinConfidence {
			kept = append(kept, pose)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if opts.MaxDetections > 0 && len(kept) > opts.MaxDetections {
		kept = kept[:opts.MaxDetections]
	}
	return kept
}

func (p *PoseNet) Close() error {
	if p.state.Swap(UNREGISTERED) == UNREGISTERED {
		return nil
	}
	err := p.w.do(context.Background(), func() error {
		if !p.loaded {
			return nil
		}
		p.loaded = false
		return p.net.Close()
	})
	p.w.stop()
	return err
}
