package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

// StaticFileServer serves rendered invoice documents. Documents render
// asynchronously after an invoice is issued, so a reference can briefly
// point at a file that does not exist yet; that case answers 404 with a
// short cache life instead of the month-long one for stored documents.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Cache-Control", "no-store, max-age=0")
		http.Error(w, "document not available yet", http.StatusNotFound)
	})
}
