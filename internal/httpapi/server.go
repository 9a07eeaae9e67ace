package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
	"github.com/BrandonDHaskell/cardkey/internal/wire"
)

type Dependencies struct {
	Logger  logrus.FieldLogger
	Addr    string
	Gateway *service.Gateway
	Health  *service.HealthService

	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit   int
	CORSOrigins []string
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	router     chi.Router
	gateway    *service.Gateway
	health     *service.HealthService
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	r := chi.NewRouter()

	s := &Server{
		logger:  d.Logger,
		router:  r,
		gateway: d.Gateway,
		health:  d.Health,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Group(func(r chi.Router) {
			if d.RateLimit > 0 {
				r.Use(httprate.LimitByIP(d.RateLimit, time.Minute))
			}
			r.Post("/verify", s.handleVerify)
			r.Post("/query", s.handleQuery)
		})
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req types.VerifyRequest
	pb, err := decode(r, &req)
	if err != nil {
		s.writeEnvelope(w, r, s.gateway.Reject(err))
		return
	}
	if pb != nil {
		req = wire.VerifyRequestFromStruct(pb)
	}

	env := s.gateway.Verify(r.Context(), req, callFor(r, started))
	s.writeEnvelope(w, r, env)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req types.QueryRequest
	pb, err := decode(r, &req)
	if err != nil {
		s.writeEnvelope(w, r, s.gateway.Reject(err))
		return
	}
	if pb != nil {
		req = wire.QueryRequestFromStruct(pb)
	}

	env := s.gateway.Query(r.Context(), req, callFor(r, started))
	s.writeEnvelope(w, r, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := s.health.Check(r.Context())
	status := http.StatusOK
	if err != nil {
		s.logger.WithError(err).Error("health check failed")
		status = http.StatusServiceUnavailable
	}
	if isProtobuf(r) {
		msg, err := wire.ToStruct(resp)
		if err != nil {
			http.Error(w, "proto marshal error", http.StatusInternalServerError)
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v, or returns the Struct for a protobuf
// body.  An empty body decodes to the zero request so that missing fields
// are reported by name.
func decode(r *http.Request, v any) (*structpb.Struct, error) {
	if isProtobuf(r) {
		msg := &structpb.Struct{}
		if err := readProto(r, msg); err != nil {
			return nil, service.ErrMalformedRequest
		}
		return msg, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return nil, service.ErrMalformedRequest
	}
	return nil, nil
}

func (s *Server) writeEnvelope(w http.ResponseWriter, r *http.Request, env types.Envelope) {
	status := env.Code.HTTPStatus()
	if isProtobuf(r) {
		writeProto(w, status, wire.EnvelopeStruct(env))
		return
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func callFor(r *http.Request, started time.Time) service.Call {
	return service.Call{
		Endpoint: r.URL.Path,
		Method:   r.Method,
		Meta: service.RequestMeta{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		},
		Started: started,
	}
}

// clientIP strips the port RemoteAddr carries unless RealIP replaced it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
