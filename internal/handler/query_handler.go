package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	appErr "github.com/corbeau/kbserve/internal/pkg/errors"
	"github.com/corbeau/kbserve/internal/pkg/response"
	"github.com/corbeau/kbserve/internal/service"
)

type QueryHandler struct {
	svc *service.QueryService
}

func NewQueryHandler(svc *service.QueryService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req service.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, fmt.Errorf("%w: %v", appErr.ErrInvalid, err))
		return
	}
	result, err := h.svc.Query(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
