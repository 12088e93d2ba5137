package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"", "10.0.0.0/8", " 192.0.2.10 ", "::ffff:172.16.0.1", "fd00::/8"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.0.2.10/32", got[1].String())
	assert.Equal(t, "172.16.0.1/32", got[2].String())
	assert.Equal(t, "fd00::/8", got[3].String())

	_, err = ParseTrustedProxies([]string{"10.0.0.0/40"})
	require.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.local"})
	require.Error(t, err)
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trusted bool
		remote  string
		xff     []string
		realIP  string
		want    string
	}{
		{name: "peer only", remote: "192.0.2.1:4000", want: "192.0.2.1"},
		{name: "untrusted peer ignores forwarded for", remote: "192.0.2.1:4000", xff: []string{"203.0.113.9"}, want: "192.0.2.1"},
		{name: "untrusted peer ignores real ip", remote: "192.0.2.1:4000", realIP: "203.0.113.9", want: "192.0.2.1"},
		{name: "no trusted list", trusted: false, remote: "10.0.0.5:4000", xff: []string{"203.0.113.9"}, want: "10.0.0.5"},
		{name: "trusted proxy", trusted: true, remote: "10.0.0.5:4000", xff: []string{"203.0.113.9"}, want: "203.0.113.9"},
		{name: "spoofed leftmost hop", trusted: true, remote: "10.0.0.5:4000", xff: []string{"1.2.3.4, 203.0.113.9, 10.0.0.7"}, want: "203.0.113.9"},
		{name: "several headers", trusted: true, remote: "10.0.0.5:4000", xff: []string{"1.2.3.4", "203.0.113.9"}, want: "203.0.113.9"},
		{name: "garbage hop falls back", trusted: true, remote: "10.0.0.5:4000", xff: []string{"junk"}, want: "10.0.0.5"},
		{name: "all hops trusted uses real ip", trusted: true, remote: "10.0.0.5:4000", xff: []string{"10.0.0.9"}, realIP: "198.51.100.2", want: "198.51.100.2"},
		{name: "mapped ipv4", trusted: true, remote: "[::ffff:10.0.0.5]:4000", xff: []string{"::ffff:203.0.113.9"}, want: "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			var proxies = trusted
			if !tt.trusted {
				proxies = nil
			}
			var got string
			RealIP(proxies)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIPWithoutRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}
