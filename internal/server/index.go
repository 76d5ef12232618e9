package server

import (
	_ "embed"
	"html/template"
	"net/http"

	"github.com/jfmyers9/nowplaying/internal/catalog"
)

//go:embed index.html
var indexHTML string

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"clock": catalog.FormatDuration,
}).Parse(indexHTML))

type indexData struct {
	Track   catalog.Track
	Elapsed int
	Playing bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap, err := s.player.Current(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, indexData{
		Track:   snap.Track,
		Elapsed: snap.Elapsed,
		Playing: snap.Playing,
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render index")
	}
}
