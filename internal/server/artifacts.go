package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/prismlab/prism/internal/blob"
)

// ArtifactsHandler serves presigned artifact downloads.
type ArtifactsHandler struct {
	Blobs *blob.Filesystem
}

func (h *ArtifactsHandler) Register(g *echo.Group) {
	g.GET("/download", h.download)
}

func (h *ArtifactsHandler) download(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token required")
	}
	locator, err := h.Blobs.VerifyToken(token)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "invalid or expired token")
	}
	data, err := h.Blobs.Get(c.Request().Context(), locator)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found")
	}
	return c.Blob(http.StatusOK, contentTypeFor(locator), data)
}

func contentTypeFor(locator string) string {
	switch strings.ToLower(path.Ext(locator)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".html":
		return "text/html; charset=utf-8"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
