package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const qrSize = 320

// API serves the REST surface around the coordinator.
type API struct {
	service   *app.Service
	verifier  TokenVerifier
	publicURL string
	logger    *slog.Logger
}

func NewAPI(service *app.Service, verifier TokenVerifier, publicURL string, logger *slog.Logger) *API {
	return &API{
		service:   service,
		verifier:  verifier,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
}

// Router wires every HTTP route, including the websocket endpoint.
func (a *API) Router(ws *WSHandler) *httprouter.Router {
	router := httprouter.New()
	router.GET("/healthz", a.health)
	router.POST("/rooms", a.createRoom)
	router.GET("/rooms/:code", a.roomSummary)
	router.DELETE("/rooms/:code", a.closeRoom)
	router.GET("/rooms/:code/leaderboard", a.leaderboard)
	router.GET("/rooms/:code/qr.png", a.qr)
	router.GET("/sessions/:id/responses", a.sessionResponses)
	router.HandlerFunc(http.MethodGet, "/ws", ws.ServeWS)
	return router
}

type createdRoom struct {
	domain.RoomSummary
	JoinURL string `json:"joinUrl"`
	QRURL   string `json:"qrUrl"`
}

func (a *API) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rooms": a.service.Rooms()})
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	host, err := a.verifier.Verify(bearerToken(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := a.service.CreateRoom(r.Context(), host)
	if err != nil {
		a.logger.Warn("create room failed", "host", host, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdRoom{
		RoomSummary: summary,
		JoinURL:     a.joinURL(summary.Code),
		QRURL:       a.publicURL + "/rooms/" + summary.Code + "/qr.png",
	})
}

func (a *API) roomSummary(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	summary, err := a.service.Summary(ps.ByName("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) closeRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity, err := a.verifier.Verify(bearerToken(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.service.CloseRoom(identity, ps.ByName("code")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) leaderboard(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	board, err := a.service.Leaderboard(ps.ByName("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (a *API) qr(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	summary, err := a.service.Summary(ps.ByName("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(a.joinURL(summary.Code), qrcode.Medium, qrSize)
	if err != nil {
		a.logger.Error("qr generation failed", "room", summary.Code, "err", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (a *API) sessionResponses(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	identity, err := a.verifier.Verify(bearerToken(r, ""))
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := a.service.SessionResponses(r.Context(), identity, ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) joinURL(code string) string {
	return a.publicURL + "/join/" + url.PathEscape(code)
}

// bearerToken prefers the Authorization header over fallback.
func bearerToken(r *http.Request, fallback string) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), domain.ErrorPayload{Code: domain.ErrorCode(err), Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCollisionExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrStaleQuestion), errors.Is(err, domain.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidChoice), errors.Is(err, domain.ErrEmptyQuiz), errors.Is(err, domain.ErrUnknownParticipant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
