package emulator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/illmade-knight/go-job-scheduler/pkg/jobspec"
	"github.com/illmade-knight/go-job-scheduler/pkg/provisioning"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HandlerConfig configures the HTTP surface of the emulator.
type HandlerConfig struct {
	// Token, when set, is the bearer token every API request must present.
	Token string
	// Registry, when set, receives request metrics and is served on /metrics.
	Registry *prometheus.Registry
}

type server struct {
	store    *Store
	cfg      HandlerConfig
	logger   zerolog.Logger
	requests *prometheus.CounterVec
}

// NewHandler serves the scheduling authority wire contract on top of store.
func NewHandler(store *Store, cfg HandlerConfig, logger zerolog.Logger) http.Handler {
	s := &server{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "EmulatorHandler").Logger(),
	}
	if cfg.Registry != nil {
		s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobscheduler",
			Subsystem: "emulator",
			Name:      "requests_total",
			Help:      "Count of wire contract requests by method and response code.",
		}, []string{"method", "code"})
		cfg.Registry.MustRegister(s.requests)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/subscriptions/{subscription}/resourceGroups/{resourceGroup}/jobCollections/{collection}", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Put("/", s.handlePutCollection)
		r.Get("/", s.handleGetCollection)
		r.Put("/jobs/{job}", s.handlePutJob)
		r.Get("/jobs/{job}", s.handleGetJob)
	})
	return r
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token != s.cfg.Token {
				s.writeError(w, r, &provisioning.RemoteError{
					Kind:    provisioning.ErrAuthorization,
					Code:    provisioning.CodeAuthenticationFailed,
					Message: "missing or invalid bearer token",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handlePutCollection(w http.ResponseWriter, r *http.Request) {
	rg, name := chi.URLParam(r, "resourceGroup"), chi.URLParam(r, "collection")

	var body provisioning.CollectionResource
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name == "" {
		body.Name = name
	}
	if body.Name != name {
		s.writeError(w, r, provisioning.NewRemoteError(provisioning.ErrRemoteValidation, name,
			"body name '%s' does not match path name '%s'", body.Name, name))
		return
	}

	rec, err := s.store.PutCollection(r.Context(), rg, body.Spec())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, putStatus(rec.Created), provisioning.NewCollectionResource(rec.Spec, &rec.Metadata))
}

func (s *server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetCollection(r.Context(), chi.URLParam(r, "resourceGroup"), chi.URLParam(r, "collection"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, provisioning.NewCollectionResource(rec.Spec, &rec.Metadata))
}

func (s *server) handlePutJob(w http.ResponseWriter, r *http.Request) {
	rg, collection, name := chi.URLParam(r, "resourceGroup"), chi.URLParam(r, "collection"), chi.URLParam(r, "job")

	var body provisioning.JobResource
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Name == "" {
		body.Name = name
	}
	if body.Name != name {
		s.writeError(w, r, provisioning.NewRemoteError(provisioning.ErrRemoteValidation, name,
			"body name '%s' does not match path name '%s'", body.Name, name))
		return
	}

	rec, err := s.store.PutJob(r.Context(), rg, collection, body.Spec())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, putStatus(rec.Created), provisioning.NewJobResource(rec.Spec, &rec.Metadata))
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetJob(r.Context(), chi.URLParam(r, "resourceGroup"), chi.URLParam(r, "collection"), chi.URLParam(r, "job"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, provisioning.NewJobResource(rec.Spec, &rec.Metadata))
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return provisioning.NewRemoteError(provisioning.ErrRemoteValidation, r.URL.Path, "malformed request body: %v", err)
	}
	return nil
}

func (s *server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	s.count(r, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := provisioning.ErrorBody{Code: provisioning.CodeInternalError, Message: err.Error()}
	var remote *provisioning.RemoteError
	switch {
	case errors.As(err, &remote):
		body.Code = remote.Code
		if remote.Message != "" {
			body.Message = remote.Message
		}
	case errors.Is(err, jobspec.ErrInvalidSpec):
		body.Code = provisioning.CodeInvalidSpec
	}

	status := provisioning.StatusForCode(body.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	s.writeJSON(w, r, status, provisioning.ErrorResponse{Error: body})
}

func (s *server) count(r *http.Request, status int) {
	if s.requests == nil {
		return
	}
	s.requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
}

func putStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
