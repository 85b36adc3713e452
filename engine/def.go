package engine

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"PoseStyler/monitor"
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	UNREGISTERED = 0x0001
	REGISTERED   = 0x0002
	IDLE         = 0x0003
	BUSY         = 0x0004
	ERROR        = 0x0005
)

type job func()

// worker 在锁定的 OS 线程上串行执行模型相关任务，gocv.Net 只在这个线程上使用
type worker struct {
	name     string
	jobs     chan job
	quit     chan struct{}
	stopOnce sync.Once
}

func newWorker(name string, queue int) *worker {
	w := &worker{
		name: name,
		jobs: make(chan job, queue),
		quit: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting in 1s",
				zap.String("worker", w.name), zap.Any("panic", r))
			time.Sleep(1 * time.Second)
			go w.run()
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("worker started", zap.String("worker", w.name))
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			j()
			monitor.JobsTotal.WithLabelValues(w.name).Inc()
		}
	}
}

// post 投递一个异步任务，任务内 panic 会被记录而不会影响后续任务
func (w *worker) post(fn func()) error {
	j := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error("job panic recovered",
					zap.String("worker", w.name), zap.Any("panic", r))
			}
		}()
		fn()
	}
	select {
	case <-w.quit:
		return iface.ErrProviderClosed
	default:
	}
	select {
	case <-w.quit:
		return iface.ErrProviderClosed
	case w.jobs <- j:
		return nil
	}
}

// do 投递任务并等待完成或 ctx 结束
func (w *worker) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	j := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s worker panic: %v", w.name, r)
			}
		}()
		done <- fn()
	}
	select {
	case <-w.quit:
		return iface.ErrProviderClosed
	default:
	}
	select {
	case <-w.quit:
		return iface.ErrProviderClosed
	case <-ctx.Done():
		return ctx.Err()
	case w.jobs <- j:
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return iface.ErrProviderClosed
	}
}

func (w *worker) stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
	})
}

// doResult 在 worker 上执行 fn 并把结果交给调用方。
// cleanup 恰好执行一次：任务开始后由任务执行，任务未开始就被放弃时由调用方执行。
// 调用方因 ctx 提前返回后才产出的结果交给 release 释放。
func doResult[T any](ctx context.Context, w *worker, fn func() (T, error), cleanup func(), release func(T)) (T, error) {
	var (
		mu        sync.Mutex
		started   bool
		abandoned bool
		result    T
		has       bool
	)
	err := w.do(ctx, func() error {
		mu.Lock()
		if abandoned {
			mu.Unlock()
			return context.Canceled
		}
		started = true
		mu.Unlock()
		defer cleanup()

		out, err := fn()
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			release(out)
			return context.Canceled
		}
		result, has = out, true
		return nil
	})
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		abandoned = true
		if !started {
			cleanup()
		}
		if has {
			release(result)
			has = false
		}
		var zero T
		return zero, err
	}
	return result, nil
}
