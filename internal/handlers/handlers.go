package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/pii-mask/internal/auth"
	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/workflow"
)

// DefaultMaxUploadSize bounds the selected image when no limit is configured.
const DefaultMaxUploadSize int64 = 10 << 20

// multipart framing allowance on top of the file limit
const formOverhead int64 = 1 << 20

type api struct {
	registry      *workflow.Registry
	metrics       *workflow.Metrics
	maxUploadSize int64
	logger        *zap.Logger
}

// RegisterRoutes wires the workflow endpoints. Everything except /health sits behind
// authMiddleware, which must put a subject on the request context.
func RegisterRoutes(router *gin.Engine, registry *workflow.Registry, metrics *workflow.Metrics, authMiddleware gin.HandlerFunc, maxUploadSize int64, logger *zap.Logger) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}
	a := &api{registry: registry, metrics: metrics, maxUploadSize: maxUploadSize, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", authMiddleware)
	authed.GET("/workflow", a.state)
	authed.DELETE("/workflow", a.forget)
	authed.POST("/workflow/file", a.selectFile)
	authed.POST("/workflow/submit", a.submit)
	authed.POST("/workflow/reset", a.reset)
	authed.GET("/workflow/download", a.download)
	authed.GET("/handles/:id", a.openHandle)
	authed.GET("/metrics", a.metricsSummary)
}

func (a *api) controller(c *gin.Context) (*workflow.Controller, string, bool) {
	subject, ok := auth.Subject(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, "", false
	}
	return a.registry.Get(subject), subject, true
}

func (a *api) state(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (a *api) selectFile(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadSize+formOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if header.Size > a.maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}

	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	sniffed := mimetype.Detect(data).String()
	if !strings.HasPrefix(sniffed, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image files are accepted", "detected": sniffed})
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = sniffed
	}

	snap := ctrl.SelectFile(c.Request.Context(), workflow.SelectedFile{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	c.JSON(http.StatusOK, snap)
}

// submit starts an attempt in the background and answers 202, or with ?wait=true
// blocks until the attempt settles.
func (a *api) submit(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}

	if c.Query("wait") == "true" {
		snap := ctrl.Submit(c.Request.Context())
		c.JSON(submitStatus(snap, http.StatusOK), snap)
		return
	}

	// the attempt outlives this request
	snap, _ := ctrl.Start(context.WithoutCancel(c.Request.Context()))
	c.JSON(submitStatus(snap, http.StatusAccepted), snap)
}

func submitStatus(snap workflow.Snapshot, fallback int) int {
	if snap.Status == workflow.StatusIdle && snap.Error != "" {
		return http.StatusBadRequest
	}
	return fallback
}

func (a *api) reset(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.Reset(c.Request.Context()))
}

func (a *api) forget(c *gin.Context) {
	_, subject, ok := a.controller(c)
	if !ok {
		return
	}
	a.registry.Remove(c.Request.Context(), subject)
	c.Status(http.StatusNoContent)
}

func (a *api) download(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}

	err := ctrl.Download(c.Request.Context(), responseSaver{c: c})
	switch {
	case err == nil:
	case errors.Is(err, workflow.ErrNoResult), errors.Is(err, handles.ErrReleased):
		c.JSON(http.StatusNotFound, gin.H{"error": "no masked image available"})
	default:
		a.logger.Error("download failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "download failed"})
	}
}

func (a *api) metricsSummary(c *gin.Context) {
	c.JSON(http.StatusOK, a.metrics.Summary())
}

func (a *api) openHandle(c *gin.Context) {
	ctrl, _, ok := a.controller(c)
	if !ok {
		return
	}

	blob, err := ctrl.Open(c.Request.Context(), handles.Handle(c.Param("id")))
	if err != nil {
		if errors.Is(err, workflow.ErrUnknownHandle) || errors.Is(err, handles.ErrReleased) || errors.Is(err, handles.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "handle not found"})
			return
		}
		a.logger.Error("failed to open handle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open handle"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentTypeOrDefault(blob.ContentType), blob.Data)
}

// responseSaver streams a download back to the browser as an attachment.
type responseSaver struct {
	c *gin.Context
}

func (s responseSaver) Save(_ context.Context, name string, blob handles.Blob) error {
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	s.c.Header("Content-Disposition", disposition)
	s.c.Header("Cache-Control", "no-store")
	s.c.Data(http.StatusOK, contentTypeOrDefault(blob.ContentType), blob.Data)
	return nil
}

func contentTypeOrDefault(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
