package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/config"
	"github.com/sheetsight/analytics-backend/internal/domain"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, ParseOrigins("https://a.com, https://b.com"))
}

func TestBuildRouter_Healthz_AlwaysOK(t *testing.T) {
	r := BuildRouter(config.Config{}, RouterDeps{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRouter_Readyz_AllChecksPass(t *testing.T) {
	deps := RouterDeps{
		DBCheck:     func(domain.Context) error { return nil },
		CacheCheck:  func(domain.Context) error { return nil },
		SheetsCheck: func(domain.Context) error { return nil },
	}
	r := BuildRouter(config.Config{}, deps)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRouter_Readyz_FailingCheckReturns503(t *testing.T) {
	deps := RouterDeps{
		DBCheck:     func(domain.Context) error { return errors.New("db down") },
		CacheCheck:  func(domain.Context) error { return nil },
		SheetsCheck: func(domain.Context) error { return nil },
	}
	r := BuildRouter(config.Config{}, deps)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildRouter_TriggerSync_RoutesToHandler(t *testing.T) {
	called := false
	deps := RouterDeps{
		TriggerSyncHandler: func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusAccepted)
		},
	}
	r := BuildRouter(config.Config{}, deps)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/trigger-sync", nil)
	r.ServeHTTP(rec, req)
	require.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
