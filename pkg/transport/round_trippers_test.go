package transport_test

import (
	"net/http"
	"testing"

	"github.com/ogero/jutsu-dl/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func TestModifyHeadersRoundTripper(t *testing.T) {
	mockRT := &mockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "TestAgent", req.Header.Get("User-Agent"))
			assert.Equal(t, "ru-RU", req.Header.Get("Accept-Language"))
			assert.Equal(t, "https://jut.su/", req.Header.Get("Referer"))
			assert.Equal(t, "XMLHttpRequest", req.Header.Get("X-Requested-With"))
			return nil, nil
		},
	}

	rt := transport.NewModifyHeadersRoundTripper(mockRT,
		transport.WithUserAgent("TestAgent"),
		transport.WithAcceptLanguage("ru-RU"),
		transport.WithReferer("https://jut.su/"),
		transport.WithHeader("X-Requested-With", "XMLHttpRequest"))

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)

	_, _ = rt.RoundTrip(req)

	assert.Empty(t, req.Header.Get("User-Agent"), "caller request must stay untouched")
}

func TestModifyHeadersRoundTripper_KeepsRequestHeaders(t *testing.T) {
	mockRT := &mockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://jut.su/naruto/", req.Header.Get("Referer"))
			return nil, nil
		},
	}

	rt := transport.NewModifyHeadersRoundTripper(mockRT, transport.WithReferer("https://jut.su/"))

	req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
	require.NoError(t, err)
	req.Header.Set("Referer", "https://jut.su/naruto/")

	_, _ = rt.RoundTrip(req)
}
