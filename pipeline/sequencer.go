package pipeline

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"PoseStyler/monitor"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Decorator draws overlays for a detection result onto a canvas.
type Decorator interface {
	DrawKeypoints(c iface.Canvas, result iface.DetectionResult) error
}

// Sequencer drives one run through
// Loading → WaitingModels → Detecting → Overlaying → Transferring → Done.
// Any provider error ends the run in Failed; nothing is retried.
type Sequencer struct {
	Source   iface.ImageSource
	Pose     iface.KeypointProvider
	Style    iface.StyleProvider
	Renderer Decorator
	Canvas   iface.Canvas
	Display  iface.Display
	Status   iface.StatusSink

	mu      sync.RWMutex
	current *Run
}

func New(src iface.ImageSource, pose iface.KeypointProvider, style iface.StyleProvider,
	renderer Decorator, canvas iface.Canvas, display iface.Display, status iface.StatusSink) (*Sequencer, error) {
	switch {
	case src == nil:
		return nil, errors.New("image source is required")
	case pose == nil:
		return nil, errors.New("keypoint provider is required")
	case style == nil:
		return nil, errors.New("style provider is required")
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case canvas == nil:
		return nil, errors.New("canvas is required")
	case display == nil:
		return nil, errors.New("display is required")
	case status == nil:
		return nil, errors.New("status sink is required")
	}
	return &Sequencer{
		Source:   src,
		Pose:     pose,
		Style:    style,
		Renderer: renderer,
		Canvas:   canvas,
		Display:  display,
		Status:   status,
	}, nil
}

// Current returns the run in progress or the last finished one.
func (s *Sequencer) Current() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// State 返回当前运行的状态，尚未开始时为 Loading
func (s *Sequencer) State() State {
	if r := s.Current(); r != nil {
		return r.State()
	}
	return Loading
}

func (s *Sequencer) enter(r *Run, st State) {
	prev := r.State()
	r.state.Store(int32(st))
	monitor.Transitions.WithLabelValues(st.String()).Inc()
	logger.Log().Info("pipeline transition",
		zap.String("run", r.ID), zap.String("from", prev.String()), zap.String("state", st.String()))
}

// fail ends the run in Failed. An error caused by ctx itself is not a provider
// failure: the run keeps its state and nothing is counted.
func (s *Sequencer) fail(ctx context.Context, r *Run, provider, status string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Log().Warn("pipeline cancelled", zap.String("run", r.ID),
			zap.String("state", r.State().String()), zap.Error(err))
		return err
	}
	monitor.ProviderErrors.WithLabelValues(provider).Inc()
	s.Status.SetStatus(status)
	s.enter(r, Failed)
	logger.Log().Error(status, zap.String("run", r.ID), zap.Error(err))
	return err
}

func observe(stage State, start time.Time) {
	monitor.StageSeconds.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}

// Run executes one pass. The returned Run is owned by the caller and must be
// closed. A cancelled ctx leaves the run in the state it was waiting in,
// Transferring included; only provider errors move it to Failed.
func (s *Sequencer) Run(ctx context.Context) (*Run, error) {
	r := newRun()
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
	monitor.Transitions.WithLabelValues(Loading.String()).Inc()
	logger.Log().Info("pipeline started", zap.String("run", r.ID))

	s.Status.SetStatus(StatusLoading)
	start := time.Now()
	img, err := s.Source.Load(ctx)
	observe(Loading, start)
	if err != nil {
		return r, s.fail(ctx, r, "source", fmt.Sprintf("Failed to load image: %v", err), err)
	}
	r.setSource(img)

	s.enter(r, WaitingModels)
	start = time.Now()
	if err := s.waitModels(ctx); err != nil {
		logger.Log().Warn("models never became ready", zap.String("run", r.ID), zap.Error(err))
		return r, err
	}
	observe(WaitingModels, start)
	s.Status.SetStatus(StatusModelsLoaded)

	if err := s.Pose.SinglePose(r.Source()); err != nil {
		return r, s.fail(ctx, r, "pose", fmt.Sprintf("Pose detection failed: %v", err), err)
	}
	s.enter(r, Detecting)
	start = time.Now()
	if err := s.detect(ctx, r); err != nil {
		return r, err
	}
	observe(Detecting, start)

	s.enter(r, Overlaying)
	start = time.Now()
	if err := s.overlay(r); err != nil {
		return r, s.fail(ctx, r, "overlay", fmt.Sprintf("Overlay failed: %v", err), err)
	}
	observe(Overlaying, start)

	if err := s.transfer(ctx, r); err != nil {
		return r, err
	}
	logger.Log().Info("pipeline finished",
		zap.String("run", r.ID), zap.Duration("duration", time.Since(r.Started)))
	return r, nil
}

// waitModels 等待两个模型都就绪，不做轮询
func (s *Sequencer) waitModels(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ready := range []<-chan struct{}{s.Pose.Ready(), s.Style.Ready()} {
		g.Go(func() error {
			select {
			case <-ready:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// detect 阻塞直到收到非空结果。空结果保持在 Detecting
func (s *Sequencer) detect(ctx context.Context, r *Run) error {
	events := s.Pose.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return s.fail(ctx, r, "pose", "Pose detection failed: provider closed", iface.ErrProviderClosed)
			}
			if ev.Err != nil {
				return s.fail(ctx, r, "pose", fmt.Sprintf("Pose detection failed: %v", ev.Err), ev.Err)
			}
			r.setResult(ev.Result)
			logger.Log().Debug("poses received", zap.String("run", r.ID), zap.Int("poses", len(ev.Result)))
			if len(ev.Result) > 0 {
				return nil
			}
		}
	}
}

func (s *Sequencer) overlay(r *Run) error {
	if err := s.Canvas.Draw(r.Source()); err != nil {
		return err
	}
	if err := s.Renderer.DrawKeypoints(s.Canvas, r.Result()); err != nil {
		return err
	}
	edited, err := s.Canvas.Snapshot()
	if err != nil {
		return err
	}
	defer edited.Close()
	if err := s.Display.ShowEdited(edited); err != nil {
		logger.Log().Warn("failed to show edited image", zap.String("run", r.ID), zap.Error(err))
	}
	return nil
}

// transfer 每次运行只会真正执行一次
func (s *Sequencer) transfer(ctx context.Context, r *Run) error {
	if !r.trigger() {
		return nil
	}
	s.enter(r, Transferring)
	s.Status.SetStatus(StatusTransferring)
	start := time.Now()

	snapshot, err := s.Canvas.Snapshot()
	if err != nil {
		return s.fail(ctx, r, "style", fmt.Sprintf("Style transfer failed: %v", err), err)
	}
	defer snapshot.Close()
	styled, err := s.Style.Transfer(ctx, snapshot)
	if err != nil {
		return s.fail(ctx, r, "style", fmt.Sprintf("Style transfer failed: %v", err), err)
	}
	r.setStyled(styled)
	observe(Transferring, start)

	if err := s.Display.ShowResult(styled); err != nil {
		logger.Log().Warn("failed to show result", zap.String("run", r.ID), zap.Error(err))
	}
	s.Status.SetStatus(StatusDone)
	s.enter(r, Done)
	return nil
}
