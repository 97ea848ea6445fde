package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"medscan/internal/transport/http/middleware"
	"medscan/internal/transport/http/response"
)

// BlobHandler serves stored images. Avatars are public like profile
// pictures; prediction images are readable only by their owner.
type BlobHandler struct {
	dir string
}

func NewBlobHandler(dir string) *BlobHandler {
	return &BlobHandler{dir: dir}
}

func (h *BlobHandler) Avatar(c *gin.Context) {
	h.serve(c, "avatars", c.Param("filepath"))
}

func (h *BlobHandler) Prediction(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	owner := c.Param("owner")
	// other users' images look missing rather than forbidden
	if owner != strconv.FormatUint(uint64(userID), 10) {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "not found")
		return
	}
	h.serve(c, path.Join("predictions", owner), c.Param("filepath"))
}

func (h *BlobHandler) serve(c *gin.Context, prefix, name string) {
	rel := path.Clean("/" + name)
	full := filepath.Join(h.dir, filepath.FromSlash(prefix), filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "not found")
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.File(full)
}
