package api

import (
	"encoding/json"
	"net/http"
)

const maxJSONBodyBytes int64 = 1 << 20

// decodeJSONBody reads a single JSON object into dst, rejecting unknown
// fields and bodies larger than maxJSONBodyBytes.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
