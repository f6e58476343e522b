package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/ArticleHub/internal/api"
	"github.com/LJTian/ArticleHub/internal/app"
	"github.com/LJTian/ArticleHub/internal/config"
	"github.com/LJTian/ArticleHub/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("init app failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// 定时强制刷新所有分类，配置了数据库时顺带归档
	schedOpts := []scheduler.Option{scheduler.WithLogger(logger)}
	var archive api.Archive
	if a.Store != nil {
		schedOpts = append(schedOpts, scheduler.WithArchive(a.Store))
		archive = a.Store
	}
	s, err := scheduler.New(cfg.CronSpec, a.Aggregator, schedOpts...)
	if err != nil {
		logger.Error("init scheduler failed", "error", err)
		os.Exit(1)
	}
	s.Start()
	defer s.Stop()

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	api.NewServer(a.Aggregator, archive, logger).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting api server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exit", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
