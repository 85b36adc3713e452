package viewer

import (
	iface "PoseStyler/interface"
	"PoseStyler/logger"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	EditedFile = "edited.png"
	ResultFile = "result.png"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusMessage is pushed to websocket clients and returned by /api/status.
type StatusMessage struct {
	Status    string `json:"status"`
	State     string `json:"state,omitempty"`
	Run       string `json:"run,omitempty"`
	HasEdited bool   `json:"hasEdited"`
	HasResult bool   `json:"hasResult"`
	Time      int64  `json:"timestamp"`
}

// Viewer 实现 Display 和 StatusSink，通过 HTTP 页面展示编辑图和风格化结果
type Viewer struct {
	OutputDir string
	// StateFunc 可选，返回当前流水线状态和运行 ID
	StateFunc func() (state, run string)

	mu      sync.RWMutex
	status  string
	edited  []byte
	result  []byte
	updated time.Time

	connMu  sync.Mutex
	clients map[*websocket.Conn]struct{}
}

var (
	_ iface.Display    = (*Viewer)(nil)
	_ iface.StatusSink = (*Viewer)(nil)
)

func New(outputDir string) (*Viewer, error) {
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	return &Viewer{
		OutputDir: outputDir,
		clients:   map[*websocket.Conn]struct{}{},
	}, nil
}

func encodePNG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, iface.ErrEmptyImage
	}
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func (v *Viewer) save(name string, data []byte) error {
	if v.OutputDir == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(v.OutputDir, name), data, 0o644)
}

// ShowEdited 保存叠加后的原图
func (v *Viewer) ShowEdited(img gocv.Mat) error {
	data, err := encodePNG(img)
	if err != nil {
		return fmt.Errorf("failed to encode edited image: %w", err)
	}
	v.mu.Lock()
	v.edited = data
	v.updated = time.Now()
	v.mu.Unlock()
	if err := v.save(EditedFile, data); err != nil {
		return fmt.Errorf("failed to save edited image: %w", err)
	}
	v.broadcast()
	return nil
}

func (v *Viewer) ShowResult(img gocv.Mat) error {
	data, err := encodePNG(img)
	if err != nil {
		return fmt.Errorf("failed to encode result image: %w", err)
	}
	v.mu.Lock()
	v.result = data
	v.updated = time.Now()
	v.mu.Unlock()
	if err := v.save(ResultFile, data); err != nil {
		return fmt.Errorf("failed to save result image: %w", err)
	}
	v.broadcast()
	return nil
}

func (v *Viewer) SetStatus(msg string) {
	v.mu.Lock()
	v.status = msg
	v.updated = time.Now()
	v.mu.Unlock()
	logger.Log().Info("status", zap.String("status", msg))
	v.broadcast()
}

func (v *Viewer) Status() StatusMessage {
	v.mu.RLock()
	msg := StatusMessage{
		Status:    v.status,
		HasEdited: v.edited != nil,
		HasResult: v.result != nil,
		Time:      v.updated.Unix(),
	}
	v.mu.RUnlock()
	if v.StateFunc != nil {
		msg.State, msg.Run = v.StateFunc()
	}
	return msg
}

func (v *Viewer) image(name string) []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	switch name {
	case EditedFile:
		return v.edited
	case ResultFile:
		return v.result
	}
	return nil
}

func (v *Viewer) broadcast() {
	msg := v.Status()
	v.connMu.Lock()
	defer v.connMu.Unlock()
	for conn := range v.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Log().Debug("websocket client dropped", zap.Error(err))
			_ = conn.Close()
			delete(v.clients, conn)
		}
	}
}

func (v *Viewer) addClient(conn *websocket.Conn) {
	v.connMu.Lock()
	defer v.connMu.Unlock()
	v.clients[conn] = struct{}{}
}

func (v *Viewer) removeClient(conn *websocket.Conn) {
	v.connMu.Lock()
	defer v.connMu.Unlock()
	if _, ok := v.clients[conn]; ok {
		delete(v.clients, conn)
		_ = conn.Close()
	}
}

// Start 在 port 上提供页面，ctx 结束时关闭
func (v *Viewer) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: v.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Log().Info("viewer listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	v.connMu.Lock()
	for conn := range v.clients {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		delete(v.clients, conn)
	}
	v.connMu.Unlock()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
