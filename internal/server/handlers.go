package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jfmyers9/nowplaying/internal/catalog"
	"github.com/jfmyers9/nowplaying/internal/history"
	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog/hlog"
)

const defaultHistoryLimit = 20

// stateResponse is the snapshot wire form shared by every endpoint
type stateResponse struct {
	Song        catalog.Track `json:"song"`
	Index       int           `json:"current_index"`
	CurrentTime int           `json:"current_time"`
	IsPlaying   bool          `json:"is_playing"`
}

func newStateResponse(snap player.Snapshot) *stateResponse {
	return &stateResponse{
		Song:        snap.Track,
		Index:       snap.Index,
		CurrentTime: snap.Elapsed,
		IsPlaying:   snap.Playing,
	}
}

type controlResponse struct {
	Status string `json:"status"`
	stateResponse
}

type seekResponse struct {
	Status      string `json:"status"`
	CurrentTime int    `json:"current_time"`
}

type catalogResponse struct {
	Songs []catalog.Track `json:"songs"`
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
	Total   int             `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCurrentSong(w http.ResponseWriter, r *http.Request) {
	snap, err := s.player.Current(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(snap))
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]

	snap, err := s.player.Dispatch(r.Context(), action)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{
		Status:        "success",
		stateResponse: *newStateResponse(snap),
	})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.Atoi(mux.Vars(r)["seconds"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid seek target: %w", err))
		return
	}

	snap, err := s.player.Dispatch(r.Context(), player.TokenSeek+":"+strconv.Itoa(seconds))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, seekResponse{Status: "success", CurrentTime: snap.Elapsed})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.source.Load(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, catalogResponse{Songs: c.Tracks()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, r, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	total, err := s.history.Count(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Total: total})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	rec, err := s.player.Record(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var rec player.Record
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&rec); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid state document: %w", err))
		return
	}

	snap, err := s.player.Restore(r.Context(), rec)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	s.hub.Broadcast("restore", snap)
	writeJSON(w, http.StatusOK, newStateResponse(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	s.hub.add(c)
	go c.writePump()

	current := func() []byte {
		var msg WSMessage
		snap, err := s.player.Current(r.Context())
		if err != nil {
			msg = WSMessage{Type: MsgTypeError, Error: err.Error()}
		} else {
			msg = WSMessage{Type: MsgTypePlayback, Command: MsgTypeSync, Data: newStateResponse(snap)}
		}
		data, err := encodeMessage(msg)
		if err != nil {
			return nil
		}
		return data
	}

	if data := current(); data != nil {
		c.queue(data)
	}
	c.readPump(current)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	if errors.Is(err, player.ErrInvalidSeekTarget) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	event := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.Err(err).Int("status", status).Msg("Request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
