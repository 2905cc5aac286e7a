package server

import (
	"net/http"

	"cotrack/config"
	"cotrack/core/realtime"
	"cotrack/logger"

	"github.com/gorilla/websocket"
)

// WSHandler 实时通道入口，认证在握手前完成
type WSHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler 创建处理器，来源检查使用 ALLOWED_ORIGINS
func NewWSHandler(hub *realtime.Hub, cfg *config.Config) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

// ServeHTTP GET /ws?token=
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := principal(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.UserID(userID), logger.ErrorField(err))
		return
	}
	logger.Debug("websocket connected", logger.UserID(userID))

	// Serve 阻塞到连接关闭
	realtime.NewClient(h.hub, conn, userID).Serve(r.Context())
	logger.Debug("websocket disconnected", logger.UserID(userID))
}
