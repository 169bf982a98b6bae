package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/corbeau/kbserve/internal/ai"
	"github.com/corbeau/kbserve/internal/pkg/errcode"
	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
	"github.com/corbeau/kbserve/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	switch {
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case appErr.IsInvalid(err):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case appErr.IsConflict(err):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, ai.ErrQuotaExceeded):
		response.Error(c, errcode.ErrEmbedUnavailable, "embedding service unavailable")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
