package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prismlab/prism/internal/blob"
	"github.com/prismlab/prism/internal/research"
	"github.com/prismlab/prism/internal/statestore"
	"github.com/prismlab/prism/internal/store"
)

const presignTTL = 15 * time.Minute

// SessionsHandler serves the session lifecycle endpoints.
type SessionsHandler struct {
	Controller *research.Controller
	Store      *store.Store
	Statuses   statestore.Store
	Blobs      blob.Store
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/cancel", h.cancel)
	g.GET("/:id/artifacts", h.artifacts)
	g.GET("/:id/versions", h.versions)
	g.GET("/:id/versions/:version", h.version)
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req research.SessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	session, err := h.Controller.Launch(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, session)
}

func (h *SessionsHandler) get(c echo.Context) error {
	id := c.Param("id")
	// Redis has the freshest snapshot; fall back to Postgres for sessions
	// whose status entry has expired.
	rec, ok, err := h.Statuses.Get(c.Request().Context(), id)
	if err == nil && ok {
		return c.JSON(http.StatusOK, rec)
	}
	sess, found, err := h.Store.GetSession(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, research.StatusRecord{
		SessionID:  sess.ID,
		Status:     research.SessionStatus(sess.Status),
		Stage:      sess.Stage,
		Progress:   sess.Progress,
		Error:      sess.Error,
		Version:    sess.Version,
		CostUSD:    sess.CostUSD,
		TokensUsed: sess.TokensUsed,
		UpdatedAt:  sess.UpdatedAt,
	})
}

func (h *SessionsHandler) cancel(c echo.Context) error {
	id := c.Param("id")
	if !h.Controller.Cancel(c.Request().Context(), id) {
		return echo.NewHTTPError(http.StatusConflict, "session is not running")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": id, "status": string(research.StatusCancelling)})
}

func (h *SessionsHandler) artifacts(c echo.Context) error {
	id := c.Param("id")
	recs, err := h.Store.ListArtifacts(c.Request().Context(), id)
	if err != nil {
		return err
	}
	type artifactView struct {
		Format    string    `json:"format"`
		Version   string    `json:"version,omitempty"`
		Locator   string    `json:"locator"`
		URL       string    `json:"url,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]artifactView, 0, len(recs))
	for _, rec := range recs {
		view := artifactView{Format: rec.Format, Version: rec.Version, Locator: rec.Locator, CreatedAt: rec.CreatedAt}
		if url, err := h.Blobs.Presign(rec.Locator, presignTTL); err == nil {
			view.URL = url
		}
		out = append(out, view)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": id, "artifacts": out})
}

func (h *SessionsHandler) versions(c echo.Context) error {
	id := c.Param("id")
	recs, err := h.Store.ListReportVersions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	type versionView struct {
		Version   string    `json:"version"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]versionView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, versionView{Version: rec.Version, CreatedAt: rec.CreatedAt})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"session_id": id, "versions": out})
}

func (h *SessionsHandler) version(c echo.Context) error {
	rec, found, err := h.Store.GetReportVersion(c.Request().Context(), c.Param("id"), c.Param("version"))
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "report version not found")
	}
	return c.JSONBlob(http.StatusOK, rec.Report)
}
