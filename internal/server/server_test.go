package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
)

type fakeLagRegister struct {
	snapshot map[string]kafkatypes.GroupWithLag
	ready    bool
}

func (f *fakeLagRegister) Snapshot() map[string]kafkatypes.GroupWithLag { return f.snapshot }
func (f *fakeLagRegister) IsReady() bool                                { return f.ready }

func newTestServer(ready bool) *Server {
	gin.SetMode(gin.TestMode)
	return New(&fakeLagRegister{snapshot: map[string]kafkatypes.GroupWithLag{}, ready: ready}, "test-cluster")
}

func TestServer_StatusHealthy(t *testing.T) {
	s := newTestServer(false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status/healthy", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_StatusReady_NotReady(t *testing.T) {
	s := newTestServer(false)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status/ready", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StatusReady_Ready(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status/ready", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics_ContentType(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestServer_Root(t *testing.T) {
	s := newTestServer(true)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
