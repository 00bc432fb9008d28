package routes

import (
	"crypto/sha256"
	"fmt"
)

// keyFor builds a stable cache key from the request identity. The hash
// keeps keys opaque and bounded no matter how long the URL gets.
func keyFor(method, url string) string {
	sum := sha256.Sum256([]byte(method + " " + url))
	return fmt.Sprintf("fetch:%x", sum[:16])
}
