package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	pathpkg "path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// routeClass groups agent routes for access logs.
func routeClass(route string) string {
	switch {
	case route == "/push/:token":
		return "push"
	case strings.HasPrefix(route, "/api/notifications"):
		return "notifications"
	case route == "/ws":
		return "ws"
	case route == "/healthz":
		return "health"
	case route == "":
		return "unmatched"
	default:
		return "other"
	}
}

// shortToken keeps enough of a push token to correlate log lines without
// writing a usable endpoint into the logs.
func shortToken(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[:6] + "..."
}

func slogGinLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		class := routeClass(c.FullPath())
		if class == "health" && status < http.StatusInternalServerError {
			return
		}

		path := c.Request.URL.Path
		if class == "push" {
			path = c.FullPath()
		}
		fields := []any{
			"class", class,
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch class {
		case "push":
			// senders are push services, not browsers; the user agent adds nothing
			fields = append(fields,
				"token", shortToken(c.Param("token")),
				"ttl", c.GetHeader("TTL"),
				"content_encoding", c.GetHeader("Content-Encoding"),
				"bytes", c.Request.ContentLength,
			)
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("push delivery failed", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("push rejected", fields...)
			default:
				logger.Info("push accepted", append(fields, "message_id", pathpkg.Base(c.Writer.Header().Get("Location")))...)
			}
		case "ws":
			fields = append(fields, "page_url", c.Query("url"), "user_agent", c.Request.UserAgent())
			logger.Info("page connection closed", fields...)
		default:
			if status >= http.StatusInternalServerError {
				logger.Error("http request", fields...)
				return
			}
			logger.Debug("http request", fields...)
		}
	}
}

// quietServerErrors are net/http error log lines that carry no signal for
// the agent: autocert rejecting unknown hosts, and scanners or push services
// dropping the connection mid-handshake.
var quietServerErrors = [][]string{
	{"TLS handshake error", "not configured"},
	{"TLS handshake error", "EOF"},
	{"TLS handshake error", "connection reset by peer"},
}

// newServerErrorWriter routes net/http server errors into slog.
func newServerErrorWriter(logger *slog.Logger) io.Writer {
	return &serverErrorWriter{logger: logger, level: slog.LevelWarn}
}

type serverErrorWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *serverErrorWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" || w.logger == nil || quietServerError(msg) {
		return len(p), nil
	}
	w.logger.Log(context.Background(), w.level, "http server", "message", msg)
	return len(p), nil
}

func quietServerError(msg string) bool {
	for _, parts := range quietServerErrors {
		all := true
		for _, part := range parts {
			if !strings.Contains(msg, part) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
