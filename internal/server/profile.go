package server

import (
	"context"
	"encoding/json"
	"net/http"
	"rival-tracker/internal/constants"
	"rival-tracker/internal/domain"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Profiles interface {
	GetProfile(ctx context.Context, nickname string) (*domain.Profile, error)
	RefreshProfile(ctx context.Context, nickname string) (*domain.Profile, error)
	GetShortProfile(ctx context.Context, userNum int64) (*domain.ShortProfile, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	ProfilePath = "/profile/"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

type ProfileServer struct {
	profiles Profiles
	health   Pinger
	metrics  http.Handler
	logger   zerolog.Logger
}

func NewProfileServer(profiles Profiles, health Pinger, metrics http.Handler, logger zerolog.Logger) *ProfileServer {
	return &ProfileServer{
		profiles: profiles,
		health:   health,
		metrics:  metrics,
		logger:   logger,
	}
}

// Register attaches every route to mux. Profile routes share one subtree
// because a nickname segment and the literal "short" segment overlap.
func (s *ProfileServer) Register(mux *http.ServeMux) {
	mux.HandleFunc(ProfilePath, s.handleProfile)
	mux.HandleFunc(HealthPath, s.handleHealth)
	if s.metrics != nil {
		mux.Handle(MetricsPath, s.metrics)
	}
}

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

var errorMessages = map[domain.ErrorKind]string{
	domain.KindUpstreamUnavailable: "game data service is unavailable, try again later",
	domain.KindUpstreamNotFound:    "player not found",
	domain.KindStorageUnavailable:  "storage is unavailable, try again later",
	domain.KindMalformedUpstream:   "game data service returned an unexpected response",
	domain.KindInvalidArgument:     "invalid request",
	domain.KindInternal:            "internal error",
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUpstreamUnavailable, domain.KindMalformedUpstream:
		return http.StatusBadGateway
	case domain.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindUpstreamNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *ProfileServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, domain.KindInvalidArgument, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, ProfilePath)
	first, second, _ := strings.Cut(rest, "/")

	switch {
	case first == "":
		s.fail(w, r, domain.ErrInvalidArgument)
	case first == "short" && second != "" && second != "update":
		s.shortProfile(w, r, second)
	case second == "update":
		profile, err := s.profiles.RefreshProfile(r.Context(), first)
		s.respond(w, r, profile, err)
	case second == "":
		profile, err := s.profiles.GetProfile(r.Context(), first)
		s.respond(w, r, profile, err)
	default:
		http.NotFound(w, r)
	}
}

func (s *ProfileServer) shortProfile(w http.ResponseWriter, r *http.Request, raw string) {
	userNum, err := strconv.ParseInt(strings.TrimSuffix(raw, "/"), 10, 64)
	if err != nil || userNum <= 0 {
		writeError(w, http.StatusBadRequest, domain.KindInvalidArgument, "user id must be a positive integer")
		return
	}
	short, err := s.profiles.GetShortProfile(r.Context(), userNum)
	s.respond(w, r, short, err)
}

func (s *ProfileServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ProfileServer) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *ProfileServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	log := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	}

	writeError(w, status, kind, errorMessages[kind])
}

func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

func (s *ProfileServer) requestLogger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
