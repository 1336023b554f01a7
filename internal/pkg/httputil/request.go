package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Decode reads a JSON request body into dst. Unknown fields are
// rejected so typos in client payloads fail loudly.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
