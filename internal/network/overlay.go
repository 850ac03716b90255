package network

import (
	"embed"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MRamiBalles/stface-relay/internal/engine"
)

//go:embed web/overlay.html
var webFS embed.FS

var overlayTemplate = template.Must(template.ParseFS(webFS, "web/overlay.html"))

type overlayData struct {
	InitialFrame string
	PollMillis   int64
	Width        int
	Debug        bool
}

// HandleOverlay serves the browser-source page that displays the face.
// GET /overlay?width=N&debug=1
func (s *Server) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	width := 96
	if v, err := strconv.Atoi(r.URL.Query().Get("width")); err == nil && v > 0 && v <= 1024 {
		width = v
	}

	data := overlayData{
		InitialFrame: s.relay.Latest().Frame,
		PollMillis:   s.pollInterval.Milliseconds(),
		Width:        width,
		Debug:        r.URL.Query().Get("debug") != "",
	}
	if data.PollMillis <= 0 {
		data.PollMillis = (100 * time.Millisecond).Milliseconds()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := overlayTemplate.Execute(w, data); err != nil {
		s.logger.Error("Failed to render overlay", err)
	}
}

// HandleFrame serves GET /{FRAME}.png from the assets directory.
// Only names from the frame vocabulary are served.
func (s *Server) HandleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	frame, ok := strings.CutSuffix(name, ".png")
	if !ok || !engine.IsFrameName(frame) {
		jsonError(w, "frame not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(s.assetsDir, frame+".png")
	f, err := os.Open(path)
	if err != nil {
		jsonError(w, "frame not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		jsonError(w, "frame not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
