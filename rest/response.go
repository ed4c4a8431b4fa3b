package rest

import (
	"io"
	"net/http"

	"github.com/trailcast/orchestrator/codec"
)

// Response wraps the raw *http.Response returned by Client.Execute, adding
// body buffering (so it can be read more than once, e.g. by raw-response
// capture hooks) and codec-based unmarshaling keyed off the Content-Type
// header, matching the decode idiom ServerContext uses on the server side.
type Response struct {
	raw    *http.Response
	client *Client
	body   []byte
	read   bool
}

// StatusCode returns the HTTP status code of the response.
func (r *Response) StatusCode() int {
	if r.raw == nil {
		return 0
	}
	return r.raw.StatusCode
}

// Header returns the response headers.
func (r *Response) Header() http.Header {
	if r.raw == nil {
		return nil
	}
	return r.raw.Header
}

// Body reads and buffers the full response body, returning it on every
// call without re-reading the underlying connection.
func (r *Response) Body() ([]byte, error) {
	if r.read {
		return r.body, nil
	}
	if r.raw == nil || r.raw.Body == nil {
		r.read = true
		return nil, nil
	}
	defer r.raw.Body.Close()
	b, err := io.ReadAll(r.raw.Body)
	if err != nil {
		return nil, err
	}
	r.body = b
	r.read = true
	return b, nil
}

// Unmarshal decodes the response body into obj using the codec registered
// for the response's Content-Type header.
func (r *Response) Unmarshal(obj any) error {
	body, err := r.Body()
	if err != nil {
		return err
	}
	contentType := r.Header().Get(ContentTypeHeader)
	c, err := codec.GetDefault(contentType)
	if err != nil {
		c = codec.JsonCodec()
	}
	return c.DecodeBytes(body, obj)
}
