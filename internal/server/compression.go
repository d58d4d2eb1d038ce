// compression.go - gzip for JSON and metrics responses.
package server

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// compressionMiddleware gzips textual responses for clients that accept it.
// Small bodies, such as most chunk acknowledgements, are sent as is.
func compressionMiddleware(next http.Handler) http.Handler {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.ContentTypes([]string{"application/json", "text/plain"}),
	)
	if err != nil {
		// Options are static; an error here is a programming mistake.
		panic(err)
	}
	return wrap(next)
}
