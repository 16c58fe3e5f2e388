package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/middleware"
	"github.com/ATikh415/gestion-operations-waouh-sub000/internal/storage"
	"github.com/ATikh415/gestion-operations-waouh-sub000/pkg/response"
)

// maxUploadSize caps a single document at 10 MiB
const maxUploadSize = 10 << 20

type UploadHandler struct {
	store storage.DocumentStore
}

func NewUploadHandler(store storage.DocumentStore) *UploadHandler {
	return &UploadHandler{store: store}
}

func (h *UploadHandler) RegisterRoutes(router *gin.RouterGroup) {
	uploads := router.Group("/api/uploads", middleware.RequireAuth())
	{
		uploads.POST("", h.Upload)
	}
}

// Upload stores a multipart file and returns the URL it is served at.
// Attaching the URL to a request is a separate, state-guarded call.
// @Summary      Upload a document
// @Tags         uploads
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file  formData  file  true  "Document file (10 MiB max)"
// @Success      201   {object}  response.Response
// @Failure      400   {object}  response.Response
// @Router       /api/uploads [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Missing file field"))
		return
	}
	if fileHeader.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "File exceeds the 10 MiB limit"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to open uploaded file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to read uploaded file"))
		return
	}

	url, err := h.store.Store(fileHeader.Filename, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to store file"))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, gin.H{
		"file_url": url,
		"name":     fileHeader.Filename,
	}))
}
