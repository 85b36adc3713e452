package viewer

import (
	"PoseStyler/logger"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>PoseStyler</title></head>
<body style="font-family: sans-serif">
<p id="status">Loading...</p>
<img id="edited" width="500" height="500" alt="">
<img id="result" width="500" height="500" alt="">
<script>
let last = 0;
function refresh(msg) {
  if (msg.timestamp < last) return;
  last = msg.timestamp;
  document.getElementById("status").textContent = msg.status;
  if (msg.hasEdited) document.getElementById("edited").src = "/api/edited.png?t=" + msg.timestamp;
  if (msg.hasResult) document.getElementById("result").src = "/api/result.png?t=" + msg.timestamp;
}
fetch("/api/status").then(r => r.json()).then(m => refresh(m.data));
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws/status");
ws.onmessage = e => refresh(JSON.parse(e.data));
</script>
</body>
</html>`

// requestLogger 记录每个请求的方法、路径、状态码和耗时
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Log().Error("server error", fields...)
		case status >= 400:
			logger.Log().Warn("client error", fields...)
		default:
			logger.Log().Debug("request", fields...)
		}
	}
}

func (v *Viewer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
	})
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": v.Status()})
	})
	r.GET("/api/edited.png", v.servePNG(EditedFile))
	r.GET("/api/result.png", v.servePNG(ResultFile))
	r.GET("/ws/status", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// 升级失败，不要再写 JSON
			return
		}
		v.addClient(conn)
		v.connMu.Lock()
		err = conn.WriteJSON(v.Status())
		v.connMu.Unlock()
		if err != nil {
			v.removeClient(conn)
			return
		}
		// 只读控制帧，客户端断开时退出
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				v.removeClient(conn)
				return
			}
		}
	})
	return r
}

func (v *Viewer) servePNG(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := v.image(name)
		if data == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": name + " not available yet"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", data)
	}
}
