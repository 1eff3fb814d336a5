package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/api/http/middlewares"
)

type pingController struct{}

func (pingController) RegisterRoutes(r *gin.Engine) {
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, middlewares.GetRequestID(c))
	})
}

func newTestServer(origins ...string) *Server {
	gin.SetMode(gin.TestMode)
	s := NewServer(ServerConfig{AllowedOrigins: origins}, nil)
	s.AddController(pingController{})
	return s
}

func TestRouterAssignsRequestID(t *testing.T) {
	r := newTestServer().Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(middlewares.RequestIDHeader)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())
}

func TestRouterKeepsInboundRequestID(t *testing.T) {
	r := newTestServer().Router()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(middlewares.RequestIDHeader, "edge-1234")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "edge-1234", w.Header().Get(middlewares.RequestIDHeader))
	assert.Equal(t, "edge-1234", w.Body.String())
}

func TestRouterCORSPreflight(t *testing.T) {
	r := newTestServer("https://droomdroom.com").Router()

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://droomdroom.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://droomdroom.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterUnknownRoute(t *testing.T) {
	r := newTestServer().Router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewServer(ServerConfig{Port: 0, ShutdownTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Expected server to stop after cancel")
	}
}
