// Package transport provides the HTTP downloader the scanning host uses to
// fetch the resources it is asked to scan.
package transport

import (
	"net/http"
	"time"
)

// Response represents a downloaded resource.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers contains the response headers.
	Headers http.Header

	// Body is the raw response body, possibly truncated.
	Body []byte

	// Truncated is set when the body exceeded the client's size limit.
	Truncated bool

	// Duration is the round-trip time including the body read.
	Duration time.Duration

	// URL is the final URL after any redirects.
	URL string
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Headers.Get("Content-Type")
}
