package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/amino/pkg/api"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	c, err := NewClient(ts.URL)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientAddress(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:8090", "http://127.0.0.1:8090", false},
		{"https://amino.local", "https://amino.local", false},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			c, err := NewClient(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.base.String())
		})
	}
}

func TestForceSync(t *testing.T) {
	online := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sync", func(w http.ResponseWriter, r *http.Request) {
		if !online {
			writeJSON(w, http.StatusServiceUnavailable, api.ErrorResponse{Error: "cannot sync while offline"})
			return
		}
		writeJSON(w, http.StatusOK, queue.DrainResult{Processed: 3})
	})
	c := newTestClient(t, mux)

	_, err := c.ForceSync(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Contains(t, err.Error(), "cannot sync while offline")

	online = true
	res, err := c.ForceSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
}

func TestRestoreBackup(t *testing.T) {
	has := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/backups/restore", func(w http.ResponseWriter, r *http.Request) {
		if !has {
			writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "no backup to restore"})
			return
		}
		writeJSON(w, http.StatusOK, api.RestoreResponse{Restored: true})
	})
	c := newTestClient(t, mux)

	restored, err := c.RestoreBackup(context.Background())
	require.NoError(t, err)
	assert.False(t, restored)

	has = true
	restored, err = c.RestoreBackup(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)
}

func TestExportImport(t *testing.T) {
	doc := `{"version":"1.0.0","data":{"members":[]}}`
	var imported []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, doc)
	})
	mux.HandleFunc("POST /api/v1/import", func(w http.ResponseWriter, r *http.Request) {
		imported, _ = io.ReadAll(r.Body)
		if r.Header.Get("Content-Type") != "application/json" {
			writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "content type"})
			return
		}
		writeJSON(w, http.StatusOK, api.ImportResponse{Imported: true})
	})
	c := newTestClient(t, mux)

	data, err := c.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, doc, string(data))

	require.NoError(t, c.Import(context.Background(), data))
	assert.Equal(t, doc, string(imported))
}

func TestPurgeCachePaths(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/cache/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /api/v1/cache", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.PurgeCache(context.Background(), ""))
	require.NoError(t, c.PurgeCache(context.Background(), "api"))
	assert.Equal(t, []string{"/api/v1/cache", "/api/v1/cache/api"}, paths)
}

func TestErrorWithoutBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadGateway))
	assert.Equal(t, "admin API returned 502", err.Error())
}

func TestTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c := newTestClient(t, mux)
	c.SetTimeout(50 * time.Millisecond)

	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin API unreachable")
}
