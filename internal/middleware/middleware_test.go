package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/brandongregoryscott/pipegate/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.Initialize("error", false)
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), rec.Body.String())
}

func TestRequestIDPreservesIncoming(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get(RequestIDHeader))
}

func TestStructuredLoggerDoesNotPanic(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), StructuredLogger())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	req := httptest.NewRequest(http.MethodGet, "/x?a=b", nil)
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() { router.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
