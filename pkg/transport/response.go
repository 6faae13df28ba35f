package transport

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

func (r *Response) IsJSON() bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// Location is the redirect target of a response captured in no-redirect mode.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals the body into v. A blank body decodes as an empty object.
func (r *Response) Decode(v interface{}) error {
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrapf(err, "decoding response from %s", r.URL)
	}
	return nil
}
