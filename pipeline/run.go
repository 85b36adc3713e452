package pipeline

import (
	iface "PoseStyler/interface"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Run 是一次流水线执行的上下文，持有源图、最新检测结果和风格化输出
type Run struct {
	ID      string
	Started time.Time

	mu        sync.RWMutex
	source    gocv.Mat
	result    iface.DetectionResult
	styled    gocv.Mat
	hasStyled bool
	state     atomic.Int32

	triggered atomic.Bool
	closeOnce sync.Once
}

func newRun() *Run {
	r := &Run{
		ID:      uuid.NewString(),
		Started: time.Now(),
		source:  gocv.NewMat(),
	}
	r.state.Store(int32(Loading))
	return r
}

func (r *Run) State() State {
	return State(r.state.Load())
}

func (r *Run) setSource(img gocv.Mat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.source.Close()
	r.source = img
}

// Source returns the loaded image. The run keeps ownership.
func (r *Run) Source() gocv.Mat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

// setResult 整体替换检测结果
func (r *Run) setResult(result iface.DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = result
}

func (r *Run) Result() iface.DetectionResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

func (r *Run) setStyled(img gocv.Mat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasStyled {
		_ = r.styled.Close()
	}
	r.styled = img
	r.hasStyled = true
}

// Styled returns the style transfer output, if any.
func (r *Run) Styled() (gocv.Mat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.styled, r.hasStyled
}

// trigger 只在第一次调用时返回 true
func (r *Run) trigger() bool {
	return r.triggered.CompareAndSwap(false, true)
}

func (r *Run) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		_ = r.source.Close()
		if r.hasStyled {
			_ = r.styled.Close()
			r.hasStyled = false
		}
	})
}
