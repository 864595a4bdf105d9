package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	open := New(Options{})
	strict := New(Options{BlockPrivateIPs: true})

	tests := []struct {
		url       string
		openErr   bool
		strictErr bool
	}{
		{"https://scraper.example.com/run", false, false},
		{"http://10.0.4.2:8080/generate", false, true},
		{"http://localhost:9000/send", false, true},
		{"http://127.0.0.1/send", false, true},
		{"http://[::1]/send", false, true},
		{"http://169.254.169.254/latest/meta-data", false, true},
		{"file:///etc/passwd", true, true},
		{"ftp://example.com/x", true, true},
		{"https://user:pw@example.com/x", true, true},
		{"http:///nohost", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := open.ValidateURL(tt.url)
			assert.Equal(t, tt.openErr, err != nil, "open client: %v", err)
			_, err = strict.ValidateURL(tt.url)
			assert.Equal(t, tt.strictErr, err != nil, "strict client: %v", err)
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.1.2.3", "172.16.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1", "0.0.0.0", "224.0.0.1", "::1", "fe80::1", "fd00::1"}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}
	for _, s := range private {
		assert.True(t, isPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range public {
		assert.False(t, isPrivateIP(net.ParseIP(s)), s)
	}
}

func TestClient_BlocksPrivateDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := New(Options{}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = New(Options{BlockPrivateIPs: true}).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private IP address blocked")
}

func TestClient_RedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := New(Options{MaxRedirects: 2}).Get(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
