package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/mahjongserver/apperr"
	"github.com/wfunc/mahjongserver/auth"
	"github.com/wfunc/mahjongserver/logger"
)

const identityKey = "identity"

// RequestLogger logs every HTTP request through zap.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Log.Infow("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Authenticate verifies the bearer token and stores the identity on the context.
func Authenticate(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := verifier.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	id, _ := c.Get(identityKey)
	identity, _ := id.(auth.Identity)
	return identity
}

// writeError maps a typed failure to an HTTP status and JSON body.
func writeError(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{
		"code":    apperr.CodeOf(err),
		"message": apperr.MessageOf(err),
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrNotCreator),
		errors.Is(err, apperr.ErrWrongPassword),
		errors.Is(err, apperr.ErrNotInRoom):
		return http.StatusForbidden
	case apperr.CodeOf(err) == apperr.ErrInternal.Code:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
