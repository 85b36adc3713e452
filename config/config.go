package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogMode string        `yaml:"logMode"`
	Image   ImageConfig   `yaml:"image"`
	Assets  AssetsConfig  `yaml:"assets"`
	Pose    PoseConfig    `yaml:"pose"`
	Style   StyleConfig   `yaml:"style"`
	Overlay OverlayConfig `yaml:"overlay"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Monitor MonitorConfig `yaml:"monitor"`
}

type ImageConfig struct {
	Source              string `yaml:"source"`
	Width               int    `yaml:"width"`
	Height              int    `yaml:"height"`
	FetchTimeoutSeconds int    `yaml:"fetchTimeoutSeconds"`
}

func (c ImageConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

type AssetsConfig struct {
	Sparkle   string `yaml:"sparkle"`
	EyeFilter string `yaml:"eyeFilter"`
}

type PoseConfig struct {
	ModelPath     string  `yaml:"modelPath"`
	ConfigPath    string  `yaml:"configPath"`
	InputSize     int     `yaml:"inputSize"`
	ScaleFactor   float64 `yaml:"scaleFactor"`
	MinConfidence float64 `yaml:"minConfidence"`
	MaxDetections int     `yaml:"maxDetections"`
	// PartOrder 模型热力图通道到关键点名称的映射，留空表示通道顺序即 COCO-17 顺序
	PartOrder []string `yaml:"partOrder"`
}

type StyleConfig struct {
	ModelPath string `yaml:"modelPath"`
}

type OverlayConfig struct {
	DebugPoints bool  `yaml:"debugPoints"`
	Seed        int64 `yaml:"seed"`
}

type ViewerConfig struct {
	Port      int    `yaml:"port"`
	OutputDir string `yaml:"outputDir"`
}

type MonitorConfig struct {
	Port int `yaml:"port"`
}

// Load 读取 YAML 配置文件，文件中没有出现的键保留默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 在默认配置上解码，显式写出的零值（如 minConfidence: 0）会被保留
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回完整的默认配置
func Default() *Config {
	return &Config{
		LogMode: "production",
		Image: ImageConfig{
			Source:              "img/input.jpg",
			Width:               500,
			Height:              500,
			FetchTimeoutSeconds: 10,
		},
		Assets: AssetsConfig{
			Sparkle:   "img/sparkle.png",
			EyeFilter: "img/filter2.png",
		},
		Pose: PoseConfig{
			ModelPath:     "models/pose.onnx",
			InputSize:     257,
			ScaleFactor:   1,
			MinConfidence: 0.1,
			MaxDetections: 2,
		},
		Style:   StyleConfig{ModelPath: "models/run9ckpt.t7"},
		Viewer:  ViewerConfig{Port: 8080, OutputDir: "output"},
		Monitor: MonitorConfig{Port: 9090},
	}
}

func (c *Config) Validate() error {
	if c.LogMode != "production" && c.LogMode != "development" {
		return fmt.Errorf("logMode must be production or development, got %q", c.LogMode)
	}
	if c.Image.Source == "" {
		return errors.New("image.source cannot be empty")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", c.Image.Width, c.Image.Height)
	}
	if c.Pose.MinConfidence < 0 || c.Pose.MinConfidence > 1 {
		return fmt.Errorf("pose.minConfidence must be between 0.0 and 1.0, got %f", c.Pose.MinConfidence)
	}
	if c.Pose.ScaleFactor <= 0 || c.Pose.ScaleFactor > 1 {
		return fmt.Errorf("pose.scaleFactor must be in (0.0, 1.0], got %f", c.Pose.ScaleFactor)
	}
	if c.Pose.MaxDetections < 0 {
		return fmt.Errorf("pose.maxDetections cannot be negative, got %d", c.Pose.MaxDetections)
	}
	if c.Pose.InputSize <= 0 {
		return fmt.Errorf("pose.inputSize must be positive, got %d", c.Pose.InputSize)
	}
	if c.Image.FetchTimeoutSeconds < 0 {
		return fmt.Errorf("image.fetchTimeoutSeconds cannot be negative, got %d", c.Image.FetchTimeoutSeconds)
	}
	if c.Viewer.Port == c.Monitor.Port {
		return fmt.Errorf("viewer and monitor cannot share port %d", c.Viewer.Port)
	}
	return nil
}
