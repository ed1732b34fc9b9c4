// Package server exposes the engine over HTTP: query, document ingestion,
// document status, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/kbforge/ragengine/internal/profile"
	"github.com/kbforge/ragengine/rag"
	"github.com/kbforge/ragengine/rag/ingest"
	"github.com/kbforge/ragengine/rag/metrics"
	"github.com/kbforge/ragengine/store"
)

type Server struct {
	echo     *echo.Echo
	profile  *profile.Profile
	store    *store.Store
	engine   *rag.Engine
	pipeline *ingest.Pipeline
}

func NewServer(profile *profile.Profile, st *store.Store, engine *rag.Engine, pipeline *ingest.Pipeline, m *metrics.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	s := &Server{
		echo:     e,
		profile:  profile,
		store:    st,
		engine:   engine,
		pipeline: pipeline,
	}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.POST("/query", s.query)
	apiV1.POST("/documents", s.addDocument)
	apiV1.GET("/documents/:id", s.getDocument)

	return s
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	s.echo.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "failed to shut down server")
	}
	// Let in-flight ingestion finish before the stores close.
	s.pipeline.Close()
	return nil
}

func (s *Server) healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (s *Server) query(c echo.Context) error {
	query := &rag.Query{}
	if err := c.Bind(query); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed query").SetInternal(err)
	}
	if query.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query text required")
	}

	result := s.engine.Query(c.Request().Context(), query)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) addDocument(c echo.Context) error {
	req := &ingest.AddDocumentRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed document").SetInternal(err)
	}

	documentID, err := s.pipeline.AddDocument(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept document").SetInternal(err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"documentId": documentID,
		"status":     string(store.DocumentStatusPending),
	})
}

func (s *Server) getDocument(c echo.Context) error {
	doc, err := s.store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load document").SetInternal(err)
	}
	if doc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":         doc.ID,
		"title":      doc.Title,
		"domain":     doc.Domain,
		"tags":       doc.Tags,
		"status":     string(doc.Status),
		"chunkCount": doc.ChunkCount,
		"createdTs":  doc.CreatedTs,
		"updatedTs":  doc.UpdatedTs,
	})
}
