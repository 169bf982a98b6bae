package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/corbeau/kbserve/internal/model"
	"github.com/corbeau/kbserve/internal/pkg/response"
	"github.com/corbeau/kbserve/internal/service"
)

const defaultListLimit = 100

type DocumentHandler struct {
	svc *service.DocumentService
}

func NewDocumentHandler(svc *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Upload accepts a multipart form: file (required), name, description,
// file_type. Processing runs in the background; the response carries the
// pending document record.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		file = nil
	}
	doc, err := h.svc.Upload(c.Request.Context(), &service.UploadRequest{
		Name:        c.PostForm("name"),
		Description: c.PostForm("description"),
		FileType:    model.FileType(c.PostForm("file_type")),
		File:        file,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, _ := strconv.ParseUint(c.Query("limit"), 10, 32)
	if limit == 0 {
		limit = defaultListLimit
	}
	docs, err := h.svc.List(c.Request.Context(), uint(limit))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	chunks, err := h.svc.Chunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"chunks": chunks})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	doc, err := h.svc.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{})
}
