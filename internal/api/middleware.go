package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/gema/internal/domain"
	"github.com/victornm/gema/internal/errors"
	"github.com/victornm/gema/internal/identity"
)

// NoStore marks every response as private and uncacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Cache-Control", "private, no-store, no-cache, must-revalidate, max-age=0")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		h.Add("Vary", "Authorization")
		c.Next()
	}
}

// Authenticate resolves the bearer token into the request context. Requests without an
// Authorization header continue as anonymous.
func Authenticate(r *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			c.Next()
			return
		}

		id, err := r.FromHeader(c.GetHeader("Authorization"))
		if err != nil {
			renderError(c, err)
			c.Abort()
			return
		}

		if id != nil {
			c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}
}

// RequestLog logs one line per request.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		lvl := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			lvl = slog.LevelError
		}
		slog.Log(c.Request.Context(), lvl, fmt.Sprintf("http: %s %s", c.Request.Method, path),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

func caller(c *gin.Context) *domain.Identity {
	return identity.FromContext(c.Request.Context())
}

// renderError writes err as {code, message}. Internal causes are logged, never returned.
func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), fmt.Sprintf("http: %s %s failed", c.Request.Method, c.FullPath()),
			"error", err,
		)
	}
	c.JSON(e.HTTPStatusCode(), e)
}
