package depresolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWhitelistFetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Whitelist
		wantErr bool
	}{
		{
			name:   "valid mapping",
			status: http.StatusOK,
			body:   `{"alpha":"git://x/alpha","beta":"https://example.com/beta.git"}`,
			want:   Whitelist{"alpha": "git://x/alpha", "beta": "https://example.com/beta.git"},
		},
		{
			name:   "empty object",
			status: http.StatusOK,
			body:   `{}`,
			want:   Whitelist{},
		},
		{
			name:   "null body",
			status: http.StatusOK,
			body:   `null`,
			want:   Whitelist{},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `oops`,
			wantErr: true,
		},
		{
			name:    "not json",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: true,
		},
		{
			name:    "wrong shape",
			status:  http.StatusOK,
			body:    `{"alpha": 1}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			wl, err := NewHTTPWhitelist(srv.URL, 2*time.Second).Fetch(context.Background())
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRegistryUnavailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, wl)
		})
	}
}

func TestHTTPWhitelistUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPWhitelist(url, time.Second).Fetch(context.Background())
	require.ErrorIs(t, err, ErrRegistryUnavailable)
}

func TestHTTPWhitelistRequiresURL(t *testing.T) {
	_, err := (&HTTPWhitelist{}).Fetch(context.Background())
	require.ErrorIs(t, err, ErrRegistryUnavailable)
}

func TestStaticWhitelistReturnsCopy(t *testing.T) {
	src := StaticWhitelist{"alpha": "git://x/alpha"}
	wl, err := src.Fetch(context.Background())
	require.NoError(t, err)
	wl["beta"] = "mutated"
	_, ok := src["beta"]
	assert.False(t, ok)
}
