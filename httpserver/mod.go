package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.dedis.ch/castor/peer"
	"go.dedis.ch/castor/peer/impl/propagation"
	"go.dedis.ch/castor/types"
	"golang.org/x/xerrors"
)

// MaxChunkBytes bounds the body of a chunk upload.
const MaxChunkBytes = 256 << 20

// maxRequestBytes bounds every other request body.
const maxRequestBytes = 1 << 20

// Server exposes a tuple store over HTTP.
//
//	POST /chunks/{chunkId}?type=T    upload raw tuples (or a CBOR chunk)
//	POST /chunks/{chunkId}/activate  activate a chunk
//	GET  /chunks/{chunkId}           chunk metadata and fragments
//	POST /reservations               reserve tuples
//	PUT  /reservations/{id}          apply a propagated reservation
//	GET  /reservations/{id}          read a reservation
//	GET  /telemetry                  available tuples per type
type Server struct {
	store peer.TupleStore
	mux   *http.ServeMux

	sync.Mutex
	srv  *http.Server
	addr string
}

// NewServer returns a server for the store. Start must be called to listen.
func NewServer(store peer.TupleStore) *Server {
	s := &Server{
		store: store,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /chunks/{chunkId}", s.uploadHandler)
	s.mux.HandleFunc("POST /chunks/{chunkId}/activate", s.activateHandler)
	s.mux.HandleFunc("GET /chunks/{chunkId}", s.chunkHandler)
	s.mux.HandleFunc("POST /reservations", s.reserveHandler)
	s.mux.HandleFunc("PUT /reservations/{reservationId}", s.applyHandler)
	s.mux.HandleFunc("GET /reservations/{reservationId}", s.reservationHandler)
	s.mux.HandleFunc("GET /telemetry", s.telemetryHandler)
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.Lock()
	defer s.Unlock()
	if s.srv != nil {
		return xerrors.Errorf("server already listening on %s", s.addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("failed to listen on %s: %v", addr, err)
	}
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr().String()

	go func(srv *http.Server) {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
		}
	}(s.srv)

	log.Info().Msgf("http server listening on %s", s.addr)
	return nil
}

// GetAddress returns the address the server listens on.
func (s *Server) GetAddress() string {
	s.Lock()
	defer s.Unlock()
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.Lock()
	srv := s.srv
	s.srv = nil
	s.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Handlers

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("chunkId")
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxChunkBytes))
	if err != nil {
		s.writeUpload(w, chunkID, xerrors.Errorf("failed to read body: %v: %w", err, types.ErrInvalidRequest))
		return
	}

	chunk := types.Chunk{ID: chunkID, TupleType: r.URL.Query().Get("type"), Data: data}
	if r.Header.Get("Content-Type") == propagation.ContentType {
		chunk, err = types.UnmarshalChunk(data)
		if err != nil {
			s.writeUpload(w, chunkID, err)
			return
		}
		if chunk.ID != chunkID {
			s.writeUpload(w, chunkID, xerrors.Errorf("body is chunk %s: %w", chunk.ID, types.ErrInvalidRequest))
			return
		}
	}

	s.writeUpload(w, chunkID, s.store.UploadChunk(r.Context(), chunk))
}

func (s *Server) activateHandler(w http.ResponseWriter, r *http.Request) {
	err := s.store.ActivateChunk(r.Context(), r.PathValue("chunkId"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) chunkHandler(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("chunkId")
	meta, err := s.store.GetChunk(r.Context(), chunkID)
	if err != nil {
		writeError(w, err)
		return
	}
	fragments, err := s.store.Fragments(r.Context(), chunkID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ChunkView{Chunk: meta, Fragments: fragments})
}

func (s *Server) reserveHandler(w http.ResponseWriter, r *http.Request) {
	var req types.ReservationRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	if err != nil {
		writeError(w, xerrors.Errorf("invalid reservation request: %v: %w", err, types.ErrInvalidRequest))
		return
	}

	reservation, err := s.store.Reserve(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) applyHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, xerrors.Errorf("failed to read body: %v: %w", err, types.ErrInvalidRequest))
		return
	}
	reservation, err := types.UnmarshalReservation(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if reservation.ID != r.PathValue("reservationId") {
		writeError(w, xerrors.Errorf("body is reservation %s: %w", reservation.ID, types.ErrInvalidRequest))
		return
	}

	err = s.store.ApplyReservation(r.Context(), reservation)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reservationHandler(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.store.GetReservation(r.Context(), r.PathValue("reservationId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (s *Server) telemetryHandler(w http.ResponseWriter, r *http.Request) {
	available, err := s.store.AvailableTuples(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, available)
}

// -----------------------------------------------------------------------------
// Responses

func (s *Server) writeUpload(w http.ResponseWriter, chunkID string, err error) {
	resp := types.UploadResponse{ChunkID: chunkID, Success: err == nil}
	status := http.StatusCreated
	if err != nil {
		resp.Reason = err.Error()
		resp.Kind = types.Classify(err)
		resp.Cause = causeOf(err)
		status = StatusOf(err)
		log.Warn().Err(err).Str("chunk", chunkID).Msg("upload rejected")
	}
	writeJSON(w, status, resp)
}

// StatusOf maps an error to the HTTP status reported to clients.
func StatusOf(err error) int {
	switch types.Classify(err) {
	case types.KindClient:
		return http.StatusBadRequest
	case types.KindCapacity, types.KindConflict:
		return http.StatusConflict
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, types.ErrorResponse{
		Error: err.Error(),
		Kind:  types.Classify(err),
		Cause: causeOf(err),
	})
}

func causeOf(err error) string {
	sentinel := types.Sentinel(err)
	if sentinel == nil {
		return ""
	}
	return sentinel.Error()
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
