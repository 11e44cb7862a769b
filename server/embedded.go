package server

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var embeddedFiles embed.FS

func staticFS() fs.FS {
	sub, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

func staticHandler() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.FS(staticFS())))
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(staticFS(), "index.html")
	if err != nil {
		sendError(w, r, err, "index")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}
