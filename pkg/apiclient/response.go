package apiclient

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Get returns the value at a gjson path of the body.
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// JSON returns the parsed body.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

func (r *Response) errorBody() any {
	var v any
	if err := json.Unmarshal(r.Body, &v); err == nil {
		return v
	}
	return map[string]any{}
}
