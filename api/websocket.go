package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vsariola/kantele/engine"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 5 * time.Second

// handleNotificationStream streams every notification published on the bus
// to the client as a JSON text message, until either side goes away.
func (s *Server) handleNotificationStream(c *gin.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifications := make(chan engine.Notification, 32)
	err := s.bus.Subscribe(ctx, func(ctx context.Context, n engine.Notification) error {
		select {
		case notifications <- n:
		case <-ctx.Done():
			return ctx.Err()
		default:
			s.logger.Warn("notification channel full, dropping notification",
				zap.Stringer("kind", n.Kind))
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to subscribe to notifications", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STREAM_UNAVAILABLE",
				Message: err.Error(),
			},
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	s.logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	// the client never sends anything we use; reading detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notifications:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(n); err != nil {
				s.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}
