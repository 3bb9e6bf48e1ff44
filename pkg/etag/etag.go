// Package etag derives strong entity tags for list snapshots.
package etag

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Compute returns a quoted strong ETag over the JSON encoding of v and the
// version stamp.
func Compute(v interface{}, version int64) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	h := blake3.New()
	h.Write([]byte(strconv.FormatInt(version, 10)))
	h.Write([]byte{0})
	h.Write(body)
	sum := h.Sum(nil)

	return `"` + hex.EncodeToString(sum[:16]) + `"`, nil
}

// Match reports whether an If-None-Match header value matches tag.
func Match(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}
