package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/openroster/rosterd/pkg/membership"
	"github.com/openroster/rosterd/pkg/observability"
	"github.com/openroster/rosterd/pkg/permission"
)

// Resolver is the part of the membership service the API consumes.
type Resolver interface {
	ResolveGroups(ctx context.Context, userID int64) (map[int64]*membership.ResolvedMembership, error)
	ResolvePermissions(ctx context.Context, userID int64) (*permission.Tree, error)
	HasPermission(ctx context.Context, userID int64, path string) (bool, error)
	AddToGroup(ctx context.Context, userID, groupID int64, args []string, from int64, to *int64) (*membership.ResolvedMembership, error)
	EndMembership(ctx context.Context, userID, groupID int64) (bool, error)
	Invalidate(userID int64)
	InvalidateAll()
}

// GroupAdmin is the group administration surface behind the API.
type GroupAdmin interface {
	CreateGroup(ctx context.Context, g *membership.Group) error
	GetGroup(ctx context.Context, id int64) (*membership.Group, error)
	UpdateGroup(ctx context.Context, g *membership.Group) error
	DeleteGroup(ctx context.Context, id int64) error
	ListGroups(ctx context.Context, onlySearchable bool) ([]*membership.Group, error)
	GrantGroupPermission(ctx context.Context, groupID int64, perm string) error
	RevokeGroupPermission(ctx context.Context, groupID int64, perm string) error
	GrantUserPermission(ctx context.Context, userID int64, perm string) error
	RevokeUserPermission(ctx context.Context, userID int64, perm string) error
}

// Server routes HTTP requests to the resolution engine and group store.
type Server struct {
	router   *mux.Router
	resolver Resolver
	groups   GroupAdmin
	logger   *logrus.Logger
	metrics  *observability.Metrics
}

// NewServer creates the API server. metrics may be nil.
func NewServer(resolver Resolver, groups GroupAdmin, logger *logrus.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		resolver: resolver,
		groups:   groups,
		logger:   logger,
		metrics:  metrics,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.instrument)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Resolution
	v1.HandleFunc("/users/{id}/groups", s.ResolveGroups).Methods("GET")
	v1.HandleFunc("/users/{id}/permissions", s.ResolvePermissions).Methods("GET")
	v1.HandleFunc("/users/{id}/permissions/check", s.CheckPermission).Methods("GET")

	// Membership mutation
	v1.HandleFunc("/users/{id}/groups", s.JoinGroup).Methods("POST")
	v1.HandleFunc("/users/{id}/groups/{group_id}", s.LeaveGroup).Methods("DELETE")

	// Individual permission grants
	v1.HandleFunc("/users/{id}/permissions", s.GrantUserPermission).Methods("POST")
	v1.HandleFunc("/users/{id}/permissions", s.RevokeUserPermission).Methods("DELETE")

	// Group administration
	v1.HandleFunc("/groups", s.CreateGroup).Methods("POST")
	v1.HandleFunc("/groups", s.ListGroups).Methods("GET")
	v1.HandleFunc("/groups/{id}", s.GetGroup).Methods("GET")
	v1.HandleFunc("/groups/{id}", s.UpdateGroup).Methods("PUT")
	v1.HandleFunc("/groups/{id}", s.DeleteGroup).Methods("DELETE")
	v1.HandleFunc("/groups/{id}/permissions", s.GrantGroupPermission).Methods("POST")
	v1.HandleFunc("/groups/{id}/permissions", s.RevokeGroupPermission).Methods("DELETE")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestID tags every request with an id for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// instrument records per-route metrics and an access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())
		}
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        path,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
			"request_id":  requestIDFrom(r.Context()),
		}).Info("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}
