package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var resp struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, NewClient(srv.URL).Get(context.Background(), "/v1/health", &resp))
	assert.True(t, resp.OK)
}

func TestClient_ErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			w.Header().Set("Retry-After", "15")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"GPU is busy"}`))
		case "/waited":
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"still busy"}`))
		case "/init":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"engines not initialized"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("plain failure"))
		}
	}))
	defer srv.Close()
	client := NewClient(srv.URL)
	ctx := context.Background()

	err := client.Get(ctx, "/busy", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "GPU is busy", apiErr.Message)
	assert.Equal(t, 15*time.Second, apiErr.RetryAfter)
	assert.True(t, IsBusy(err))

	err = client.Get(ctx, "/waited", nil)
	assert.True(t, IsBusy(err))

	err = client.Get(ctx, "/init", nil)
	assert.False(t, IsBusy(err))

	err = client.Delete(ctx, "/other")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "plain failure", apiErr.Message)
}

func TestClient_PostFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"Empty file"}`))
			return
		}
		w.Header().Set("X-Job-ID", "job-1")
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("zipdata"))
	}))
	defer srv.Close()
	client := NewClient(srv.URL)

	dl, err := client.PostFile(context.Background(), "/v1/process/pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))
	assert.Equal(t, "job-1", dl.Header.Get("X-Job-ID"))

	_, err = client.PostFile(context.Background(), "/v1/process/pdf", "application/pdf", bytes.NewReader(nil))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Empty file", apiErr.Message)
}

type stubEndpoint struct {
	method, path, group string
	init                bool
}

func (e *stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
}
func (e *stubEndpoint) RequiresInit() bool { return e.init }
func (e *stubEndpoint) Group() string      { return e.group }
func (e *stubEndpoint) Command(func() string) *cobra.Command {
	name := e.path[strings.LastIndex(e.path, "/")+1:]
	return &cobra.Command{Use: name}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubEndpoint{method: "GET", path: "/v1/health"})
	r.Register(&stubEndpoint{method: "GET", path: "/v1/jobs/list", group: "jobs", init: true})
	r.Register(&stubEndpoint{method: "GET", path: "/v1/jobs/get", group: "jobs", init: true})

	t.Run("wraps init routes", func(t *testing.T) {
		mux := http.NewServeMux()
		r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/jobs/list", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("groups commands", func(t *testing.T) {
		root := r.BuildCommands(func() string { return "" })
		names := map[string]*cobra.Command{}
		for _, c := range root.Commands() {
			names[c.Name()] = c
		}
		require.Contains(t, names, "health")
		require.Contains(t, names, "jobs")
		assert.Len(t, names["jobs"].Commands(), 2)
	})
}

func TestOutputTo(t *testing.T) {
	data := struct {
		JobID string `json:"job_id"`
		Pages int    `json:"pages"`
	}{"abc", 3}

	var buf bytes.Buffer
	require.NoError(t, OutputTo(&buf, OutputFormatYAML, data))
	assert.Equal(t, "job_id: abc\npages: 3\n", buf.String())

	buf.Reset()
	require.NoError(t, OutputTo(&buf, OutputFormatJSON, data))
	assert.JSONEq(t, `{"job_id":"abc","pages":3}`, buf.String())

	_, err := ParseOutputFormat("xml")
	assert.Error(t, err)
	f, err := ParseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)
}
