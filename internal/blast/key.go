package blast

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a search by its command and query body. The job id, query
// path and thread count aren't part of it, so repeat searches from different
// jobs share one cache entry
func Key(call []string, body string) string {
	h := xxhash.New()
	for _, arg := range call {
		_, _ = h.WriteString(arg)
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(body)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Key returns the cache key of the invocation
func (i *Invocation) Key() string {
	return Key(i.Call, i.Body())
}
