package transport

import (
	"net/http"
)

// ModifyHeadersOption is a function type used to modify HTTP headers in a request.
// It takes a function that sets a header key and value, allowing for flexible header modification.
type ModifyHeadersOption func(func(key string, value string))

type modifyHeadersRoundTripper struct {
	roundTripper http.RoundTripper
	options      []ModifyHeadersOption
}

// NewModifyHeadersRoundTripper will add headers to a request.
// The request is cloned first, a RoundTripper must not modify the caller's request.
func NewModifyHeadersRoundTripper(rt http.RoundTripper, opts ...ModifyHeadersOption) http.RoundTripper {
	return &modifyHeadersRoundTripper{roundTripper: rt, options: opts}
}

func (rt *modifyHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for _, opt := range rt.options {
		opt(func(key string, value string) {
			if req.Header.Get(key) == "" {
				req.Header.Set(key, value)
			}
		})
	}
	return rt.roundTripper.RoundTrip(req)
}

// WithUserAgent is a functional option to set the HTTP client user agent.
func WithUserAgent(userAgent string) ModifyHeadersOption {
	return WithHeader("User-Agent", userAgent)
}

// WithAcceptLanguage is a functional option to set the HTTP client accept language.
func WithAcceptLanguage(acceptLanguage string) ModifyHeadersOption {
	return WithHeader("Accept-Language", acceptLanguage)
}

// WithReferer sets the Referer header. Media hosts refuse hotlinked requests without it.
func WithReferer(referer string) ModifyHeadersOption {
	return WithHeader("Referer", referer)
}

// WithHeader sets an arbitrary header unless the request already carries one.
func WithHeader(key, value string) ModifyHeadersOption {
	return func(f func(key string, value string)) {
		f(key, value)
	}
}
