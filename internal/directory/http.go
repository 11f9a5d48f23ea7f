// Package directory exposes read-only views of the live room set over HTTP
// and gRPC. Rooms are only ever created over the realtime channel.
package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/citybuilder/internal/game/protocol"
	"github.com/cory-johannsen/citybuilder/internal/game/room"
	"github.com/cory-johannsen/citybuilder/internal/gameserver"
)

// Source answers directory queries from the game server loop.
type Source interface {
	Rooms(ctx context.Context) ([]room.Summary, error)
	Stats(ctx context.Context) (gameserver.Stats, error)
}

// Listing is one entry of GET /rooms.
type Listing struct {
	protocol.RoomSummary
	CreatedAt int64 `json:"createdAt"`
}

// Open returns the rooms that still have a free seat, in creation order.
func Open(rooms []room.Summary) []Listing {
	out := make([]Listing, 0, len(rooms))
	for _, s := range rooms {
		if !s.HasCapacity() {
			continue
		}
		out = append(out, Listing{RoomSummary: s.Wire(), CreatedAt: s.CreatedAt.UnixMilli()})
	}
	return out
}

// Handler serves the REST room directory.
type Handler struct {
	source Source
	limits room.Limits
	logger *zap.Logger
}

// NewHandler creates a REST directory handler.
//
// Precondition: source and logger must be non-nil.
func NewHandler(source Source, limits room.Limits, logger *zap.Logger) *Handler {
	return &Handler{source: source, limits: limits, logger: logger}
}

// Routes returns the directory routes wrapped in CORS, logging and panic recovery.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(cors(handler)))
	}

	mux.HandleFunc("GET /rooms", wrap(h.listRooms))
	mux.HandleFunc("POST /rooms", wrap(h.validateRoom))
	mux.HandleFunc("OPTIONS /", wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("/", wrap(func(w http.ResponseWriter, r *http.Request) {
		h.errorResponse(w, "Not found", http.StatusNotFound)
	}))

	return mux
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.source.Rooms(r.Context())
	if err != nil {
		h.logger.Warn("listing rooms", zap.Error(err))
		h.errorResponse(w, "room directory unavailable", http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, Open(rooms), http.StatusOK)
}

type validateRoomRequest struct {
	CitySize protocol.Number `json:"citySize"`
}

// validateRoom checks a prospective city size without creating anything.
func (h *Handler) validateRoom(w http.ResponseWriter, r *http.Request) {
	var req validateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	size, err := room.ParseCitySize(req.CitySize, h.limits)
	if err != nil {
		code, _ := room.CodeOf(err)
		h.jsonResponse(w, map[string]any{
			"error": err.Error(),
			"code":  code,
		}, http.StatusBadRequest)
		return
	}
	h.jsonResponse(w, map[string]any{
		"valid":    true,
		"citySize": size,
	}, http.StatusOK)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	st, err := h.source.Stats(r.Context())
	if err != nil {
		h.jsonResponse(w, map[string]any{
			"status": "stopping",
			"time":   time.Now().Unix(),
		}, http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, map[string]any{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"rooms":   st.Rooms,
		"clients": st.Clients,
	}, http.StatusOK)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encoding response", zap.Error(err))
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next(w, r)
	}
}

func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request",
					zap.Any("panic", err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
