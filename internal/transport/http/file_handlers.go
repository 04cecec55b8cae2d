package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/roomrelay/relayd/internal/store"
)

// FileHandlers serves the persisted uploads recorded in the ledger.
type FileHandlers struct {
	uploads store.UploadStore
	blobs   store.BlobStore
	log     *zerolog.Logger
}

// NewFileHandlers creates a new file handlers instance.
func NewFileHandlers(uploads store.UploadStore, blobs store.BlobStore, logger *zerolog.Logger) *FileHandlers {
	return &FileHandlers{
		uploads: uploads,
		blobs:   blobs,
		log:     logger,
	}
}

// FileResponse represents one upload in API responses.
type FileResponse struct {
	Filename  string `json:"filename"`
	Uploader  string `json:"uploader"`
	Room      string `json:"room,omitempty"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	CreatedAt string `json:"created_at"`
}

// List returns every recorded upload, newest first.
// GET /api/files
func (h *FileHandlers) List(c *gin.Context) {
	uploads, err := h.uploads.ListUploads(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list uploads")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := make([]FileResponse, 0, len(uploads))
	for _, up := range uploads {
		resp = append(resp, FileResponse{
			Filename:  up.Filename,
			Uploader:  up.Uploader,
			Room:      up.Room,
			Size:      up.Size,
			SHA256:    up.SHA256,
			CreatedAt: up.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Download streams the persisted bytes of one upload.
// GET /api/files/:name
func (h *FileHandlers) Download(c *gin.Context) {
	name := c.Param("name")

	if _, err := h.uploads.GetUpload(c.Request.Context(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
			return
		}
		h.log.Error().Err(err).Str("filename", name).Msg("lookup upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	path, err := h.blobs.Resolve(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "file not found"})
			return
		}
		h.log.Error().Err(err).Str("filename", name).Msg("resolve blob")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.FileAttachment(path, name)
}
