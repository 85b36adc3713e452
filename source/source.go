package source

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const DefaultFetchTimeout = 10 * time.Second

// Source loads one still image and scales it to a fixed surface size.
type Source struct {
	Locator string
	Size    image.Point

	client *resty.Client
}

// New 创建图片源，locator 可以是本地路径、file:// 或 http(s):// 地址
func New(locator string, width, height int, timeout time.Duration) (*Source, error) {
	if strings.TrimSpace(locator) == "" {
		return nil, errors.New("image source locator is empty")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", width, height)
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Source{
		Locator: locator,
		Size:    image.Pt(width, height),
		client:  resty.New().SetTimeout(timeout),
	}, nil
}

// Load 读取并解码图片，缩放到 Size。空图或无法解码的数据返回 ErrEmptyImage
func (s *Source) Load(ctx context.Context) (gocv.Mat, error) {
	start := time.Now()
	data, err := s.read(ctx)
	if err != nil {
		return gocv.NewMat(), err
	}
	img, err := decode(data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to decode %s: %w", s.Locator, err)
	}
	defer img.Close()

	out := gocv.NewMat()
	gocv.Resize(img, &out, s.Size, 0, 0, gocv.InterpolationArea)
	logger.Log().Info("image loaded",
		zap.String("source", s.Locator),
		zap.Int("srcWidth", img.Cols()), zap.Int("srcHeight", img.Rows()),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Source) read(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(s.Locator)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// 无 scheme 或 Windows 盘符，按本地路径处理
		return readFile(s.Locator)
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if p == "" {
			p = u.Opaque
		}
		return readFile(p)
	case "http", "https":
		return s.fetch(ctx, u.String())
	default:
		return nil, fmt.Errorf("unsupported image source scheme %q", u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

func (s *Source) fetch(ctx context.Context, addr string) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "image/*").
		Get(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("image server returned %s", resp.Status())
	}
	return resp.Body(), nil
}

func decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), iface.ErrEmptyImage
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		_ = mat.Close()
		return gocv.NewMat(), iface.ErrEmptyImage
	}
	return mat, nil
}
