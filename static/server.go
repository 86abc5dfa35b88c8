package static

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist
var dist embed.FS

var assetExtensions = map[string]bool{
	".js":   true,
	".css":  true,
	".svg":  true,
	".ico":  true,
	".png":  true,
	".jpg":  true,
	".webp": true,
	".txt":  true,
	".map":  true,
	".woff": true,
}

// Handler serves the built frontend. Assets go through the embedded
// file server, everything else gets index.html so client-side routes
// survive a refresh.
func Handler() http.Handler {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/assets/") || assetExtensions[path.Ext(r.URL.Path)] {
			files.ServeHTTP(w, r)
			return
		}
		b, err := fs.ReadFile(sub, "index.html")
		if err != nil {
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	})
}
