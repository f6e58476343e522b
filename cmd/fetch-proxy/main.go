package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/ArticleHub/internal/proxytext"
)

// 独立的抓取代理：以 JSON-RPC 暴露 fetch_feed 工具，返回分段纯文本
func main() {
	port := flag.String("port", envOr("PROXY_PORT", "9100"), "listen port")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	reader := proxytext.NewGofeedReader(&http.Client{Timeout: 20 * time.Second})
	r := gin.Default()
	proxytext.NewServer(reader, logger).RegisterRoutes(r)

	addr := ":" + *port
	logger.Info("starting fetch proxy", "addr", addr)
	if err := r.Run(addr); err != nil {
		logger.Error("proxy exit", "error", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
