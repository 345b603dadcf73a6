package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/meteolab/station-ingest/internal/adapter/http"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockMeta struct {
	value string
	ok    bool
	err   error
}

func (m *mockMeta) GetMeta(_ context.Context, _ string) (string, bool, error) {
	return m.value, m.ok, m.err
}

func newTestServer(readyErr error, meta *mockMeta) *httpadapter.Server {
	if meta == nil {
		meta = &mockMeta{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, meta, logger)
}

func do(srv *httpadapter.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := do(newTestServer(nil, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		rec := do(newTestServer(nil, nil), "/readyz")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready", func(t *testing.T) {
		rec := do(newTestServer(errors.New("no successful ingest run yet"), nil), "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not ready", body["status"])
	})
}

func TestStatusz(t *testing.T) {
	t.Run("reports the last successful run", func(t *testing.T) {
		meta := &mockMeta{value: "2026-08-25T10:30:00Z", ok: true}
		rec := do(newTestServer(nil, meta), "/statusz")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "2026-08-25T10:30:00Z", body["last_ingest"])
	})

	t.Run("reports never before the first run", func(t *testing.T) {
		rec := do(newTestServer(nil, &mockMeta{}), "/statusz")
		assert.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "never", body["last_ingest"])
	})

	t.Run("propagates store errors", func(t *testing.T) {
		rec := do(newTestServer(nil, &mockMeta{err: errors.New("db gone")}), "/statusz")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestMetricsEndpointServes(t *testing.T) {
	rec := do(newTestServer(nil, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
