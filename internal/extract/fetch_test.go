package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://example.com/report", true},
		{"http://example.com", true},
		{"  https://example.com/a?b=c  ", true},
		{"ftp://example.com/file.csv", false},
		{"file:///etc/passwd", false},
		{"javascript:alert(1)", false},
		{"https://", false},
		{"not a url", false},
		{"://missing", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ValidateURL(tt.raw)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "evidence-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><p>ok</p></body></html>"))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Timeout: 100 * time.Millisecond, MaxBytes: 48, UserAgent: "evidence-test"}, nil)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		res, err := f.Fetch(ctx, srv.URL+"/page")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "text/html; charset=utf-8", res.ContentType)
		assert.Contains(t, string(res.Body), "<p>ok</p>")
		assert.Equal(t, srv.URL+"/page", res.URL)
	})

	t.Run("redirect reports final url", func(t *testing.T) {
		res, err := f.Fetch(ctx, srv.URL+"/moved")
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/page", res.URL)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/missing")
		require.Error(t, err)
		var reqErr *common.RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		assert.ErrorIs(t, err, common.ErrRequest)
	})

	t.Run("body over limit", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/big")
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := f.Fetch(ctx, srv.URL+"/slow")
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrRequest)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := f.Fetch(ctx, "ftp://example.com/x")
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}
