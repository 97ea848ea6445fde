package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobRouter(t *testing.T, auth gin.HandlerFunc) *gin.Engine {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, body string) {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}
	write("avatars/3/a.jpg", "avatar")
	write("predictions/3/scan.jpg", "mine")
	write("predictions/4/scan.jpg", "theirs")

	h := NewBlobHandler(dir)
	router := gin.New()
	blobs := router.Group("/blobs")
	blobs.GET("/avatars/*filepath", h.Avatar)
	blobs.GET("/predictions/:owner/*filepath", auth, h.Prediction)
	return router
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	return serve(router, httptest.NewRequest(http.MethodGet, target, nil))
}

func TestBlobsAvatarIsPublic(t *testing.T) {
	router := blobRouter(t, withUser(3))
	w := get(router, "/blobs/avatars/3/a.jpg")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "avatar", w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(router, "/blobs/avatars/3/missing.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/blobs/avatars/3").Code)
}

func TestBlobsPredictionOnlyForOwner(t *testing.T) {
	router := blobRouter(t, withUser(3))

	w := get(router, "/blobs/predictions/3/scan.jpg")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mine", w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(router, "/blobs/predictions/4/scan.jpg").Code)
}

func TestBlobsPredictionRequiresUser(t *testing.T) {
	router := blobRouter(t, func(c *gin.Context) { c.Next() })
	assert.Equal(t, http.StatusUnauthorized, get(router, "/blobs/predictions/3/scan.jpg").Code)
}

func TestBlobsAvatarCannotEscapePrefix(t *testing.T) {
	router := blobRouter(t, withUser(3))
	w := get(router, "/blobs/avatars/../predictions/4/scan.jpg")
	assert.NotEqual(t, "theirs", w.Body.String())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
