package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cotrack/cache"
	"cotrack/config"
	"cotrack/core/auth"
	"cotrack/core/invite"
	"cotrack/core/playlist"
	"cotrack/core/realtime"
	"cotrack/db"
	"cotrack/logger"
	"cotrack/model"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

const (
	presenceTTL     = 90 * time.Second
	shutdownTimeout = 5 * time.Second
	bridgeWait      = 5 * time.Second
)

// Deps 路由依赖
type Deps struct {
	Playlists *playlist.PlaylistManager
	Members   *playlist.MembershipManager
	Ledger    *playlist.Ledger
	Hub       *realtime.Hub
	Verifier  *auth.Verifier
}

// Server HTTP 与 WebSocket 入口
type Server struct {
	cfg      *config.Config
	deps     Deps
	playlist *PlaylistHandler
	ws       *WSHandler
}

// New 创建服务
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		playlist: NewPlaylistHandler(deps.Playlists, deps.Members, deps.Ledger),
		ws:       NewWSHandler(deps.Hub, cfg),
	}
}

// Router 注册全部路由
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLogMiddleware)
	router.Use(corsMiddleware(s.cfg))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	router.Handle("/ws", authMiddleware(s.deps.Verifier, true)(s.ws)).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(s.deps.Verifier, false))

	h := s.playlist
	api.HandleFunc("/activities", h.RecentActivityHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists", h.ListPlaylistsHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists", h.CreatePlaylistHandler).Methods(http.MethodPost)
	// join 必须在 {id} 之前注册
	api.HandleFunc("/playlists/join", h.JoinPlaylistHandler).Methods(http.MethodPost)
	api.HandleFunc("/playlists/{id}", h.GetPlaylistHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists/{id}", h.RenamePlaylistHandler).Methods(http.MethodPatch)
	api.HandleFunc("/playlists/{id}", h.DeletePlaylistHandler).Methods(http.MethodDelete)
	api.HandleFunc("/playlists/{id}/tracks", h.ListTracksHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists/{id}/tracks", h.AppendTrackHandler).Methods(http.MethodPost)
	api.HandleFunc("/playlists/{id}/tracks/{entryId}", h.RemoveTrackHandler).Methods(http.MethodDelete)
	api.HandleFunc("/playlists/{id}/members", h.ListMembersHandler).Methods(http.MethodGet)
	api.HandleFunc("/playlists/{id}/members/{userId}", h.RemoveMemberHandler).Methods(http.MethodDelete)
	api.HandleFunc("/playlists/{id}/leave", h.LeavePlaylistHandler).Methods(http.MethodPost)

	// 预检请求没有 token，由 CORS 中间件直接应答
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

// Start 连接存储、组装服务并监听，收到 SIGINT/SIGTERM 后优雅退出
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("初始化鉴权失败: %w", err)
	}

	store, closeStore, err := db.OpenStore(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("关闭存储失败", logger.ErrorField(err))
		}
	}()

	var (
		redisClient   *redis.Client
		presenceCache *cache.PresenceCache
	)
	if cfg.RedisEnabled() {
		redisClient, err = db.ConnectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		presenceCache = cache.NewPresenceCache(redisClient, presenceTTL)
		logger.Info("Redis connected", logger.String("host", cfg.RedisHost))
	}

	// 管理器与 Hub 互相依赖，广播目标在 Hub 建好之后再确定
	var sink realtime.Sink
	broadcaster := playlist.BroadcasterFunc(func(evt model.Event) {
		sink.Publish(evt)
	})

	// 未启用 Redis 时必须传 nil 接口，不能传 nil 指针
	var presence playlist.PresenceCache
	if presenceCache != nil {
		presence = presenceCache
	}
	members := playlist.NewMembershipManager(store, broadcaster, presence)
	playlists := playlist.NewPlaylistManager(store, broadcaster, invite.NewIssuer(cfg.InviteMaxAttempts), cfg.TitleMaxLength)
	ledger := playlist.NewLedger(store, broadcaster, cfg.LedgerMaxRetries)

	hub := realtime.NewHub(members, realtime.NewMemberPresence(members, presenceCache))
	go hub.Run()
	defer hub.Stop()

	sink = hub
	if redisClient != nil {
		if bridge := startBridge(ctx, redisClient, cfg.RealtimeChannel, hub); bridge != nil {
			sink = bridge
		}
	}

	if err := config.Watch(ctx, ".env", func(next *config.Config) {
		logger.SetLevel(logger.LogLevel(next.LogLevel))
		logger.Info("log level reloaded", logger.String("level", logger.Level()))
	}, func(err error) {
		logger.Warn("watch .env failed", logger.ErrorField(err))
	}); err != nil {
		logger.Debug(".env watcher disabled", logger.ErrorField(err))
	}

	srv := New(cfg, Deps{
		Playlists: playlists,
		Members:   members,
		Ledger:    ledger,
		Hub:       hub,
		Verifier:  verifier,
	})
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("Server exited")
	return nil
}

// startBridge 启动 Redis 转发，订阅失败时返回 nil，事件只在本实例内广播
func startBridge(ctx context.Context, client *redis.Client, channel string, hub *realtime.Hub) *realtime.RedisBridge {
	bridge := realtime.NewRedisBridge(client, channel, hub)
	errCh := make(chan error, 1)
	go func() {
		errCh <- bridge.Run(ctx)
	}()

	select {
	case <-bridge.Ready():
		return bridge
	case err := <-errCh:
		logger.Warn("realtime redis bridge unavailable, falling back to local hub", logger.ErrorField(err))
	case <-time.After(bridgeWait):
		logger.Warn("realtime redis bridge not ready, falling back to local hub")
	}
	return nil
}
