package main

import (
	"PoseStyler/config"
	"PoseStyler/engine"
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"PoseStyler/monitor"
	"PoseStyler/overlay"
	"PoseStyler/pipeline"
	"PoseStyler/source"
	"PoseStyler/viewer"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Println("Config file not found, using defaults:", path)
		return config.Default(), nil
	}
	return cfg, err
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.S().Info(strings.Repeat("#", 64))
	logger.S().Infof("CPU Cores: %d", runtime.NumCPU())
	logger.S().Infof(" Image       : %s", cfg.Image.Source)
	logger.S().Infof(" Viewer  Port: %d", cfg.Viewer.Port)
	logger.S().Infof(" Monitor Port: %d", cfg.Monitor.Port)
	logger.S().Info(strings.Repeat("#", 64))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log().Error("pipeline exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.S().Info("Safely exited")
}

// app 持有一次运行所需的全部组件，全部在服务启动前构建完成
type app struct {
	view     *viewer.Viewer
	pose     *engine.PoseNet
	style    *engine.StyleNet
	renderer *overlay.Renderer
	canvas   *overlay.Canvas
	seq      *pipeline.Sequencer
}

func (a *app) Close() {
	if a.canvas != nil {
		_ = a.canvas.Close()
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.style != nil {
		_ = a.style.Close()
	}
	if a.pose != nil {
		_ = a.pose.Close()
	}
}

// setup 构建所有组件。出错时已创建的组件会被释放
func setup(cfg *config.Config) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.view, err = viewer.New(cfg.Viewer.OutputDir); err != nil {
		return a, err
	}
	if a.pose, err = engine.NewPoseNet(cfg.Pose.ModelPath, cfg.Pose.ConfigPath, cfg.Pose.PartOrder); err != nil {
		return a, fmt.Errorf("failed to create pose provider: %w", err)
	}
	if err = a.pose.Configure(iface.PoseOptions{
		ScaleFactor:   cfg.Pose.ScaleFactor,
		MinConfidence: cfg.Pose.MinConfidence,
		MaxDetections: cfg.Pose.MaxDetections,
		InputSize:     cfg.Pose.InputSize,
	}); err != nil {
		return a, fmt.Errorf("invalid pose options: %w", err)
	}
	if a.style, err = engine.NewStyleNet(cfg.Style.ModelPath); err != nil {
		return a, fmt.Errorf("failed to create style provider: %w", err)
	}
	if a.renderer, err = overlay.LoadRenderer(cfg.Assets.Sparkle, cfg.Assets.EyeFilter, cfg.Overlay.Seed); err != nil {
		return a, err
	}
	a.renderer.DebugPoints = cfg.Overlay.DebugPoints
	if a.canvas, err = overlay.NewCanvas(cfg.Image.Width, cfg.Image.Height); err != nil {
		return a, err
	}
	src, err := source.New(cfg.Image.Source, cfg.Image.Width, cfg.Image.Height, cfg.Image.FetchTimeout())
	if err != nil {
		return a, err
	}
	if a.seq, err = pipeline.New(src, a.pose, a.style, a.renderer, a.canvas, a.view, a.view); err != nil {
		return a, err
	}
	seq := a.seq
	a.view.StateFunc = func() (string, string) {
		if r := seq.Current(); r != nil {
			return r.State().String(), r.ID
		}
		return pipeline.Loading.String(), ""
	}
	return a, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	a, err := setup(cfg)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	// cancel 先于 wg.Wait 执行，任何提前返回都会让服务退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(ctx, cfg.Monitor.Port)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.view.Start(ctx, cfg.Viewer.Port); err != nil {
			logger.Log().Error("viewer stopped", zap.Error(err))
			cancel()
		}
	}()

	r, err := a.seq.Run(ctx)
	defer r.Close()
	if err != nil && ctx.Err() != nil {
		return err
	}
	// 失败时页面保留错误状态，直到收到退出信号
	if err != nil {
		logger.Log().Error("pipeline failed", zap.String("run", r.ID), zap.Error(err))
	} else {
		logger.Log().Info("result ready, press Ctrl+C to exit",
			zap.String("run", r.ID), zap.Int("port", cfg.Viewer.Port))
	}
	<-ctx.Done()
	return err
}
