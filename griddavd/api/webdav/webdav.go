// Package webdav is the HTTP surface of the gateway. Every route goes
// through the Basic auth filter, which binds the grid identity, and the
// session filter, which opens the grid session of the request and releases
// it on every exit path.
package webdav

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/auth_service"
	"github.com/cernbox/griddav/api/resource"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionCookie carries the signed session token between requests.
const SessionCookie = "griddav_session"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "griddav",
		Name:      "http_requests_total",
		Help:      "WebDAV requests by method and status code.",
	}, []string{"method", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "griddav",
		Name:      "http_request_duration_seconds",
		Help:      "WebDAV request latency by method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	openSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "griddav",
		Name:      "open_grid_sessions",
		Help:      "Grid sessions currently held by in-flight requests.",
	})
)

type Options struct {
	Router       *mux.Router
	Grid         api.Grid
	AuthService  *auth_service.Service
	TokenManager api.TokenManager
	Locks        api.LockManager
	Factory      *resource.Factory

	// SecureCookie marks the session cookie Secure, set it when serving
	// over TLS.
	SecureCookie bool

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Router == nil {
		opt.Router = mux.NewRouter()
	}
}

func New(opt *Options) (http.Handler, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()

	switch {
	case opt.Grid == nil:
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing grid")
	case opt.AuthService == nil:
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing auth service")
	case opt.Locks == nil:
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing lock manager")
	case opt.Factory == nil:
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("missing resource factory")
	}

	p := &proxy{
		router:       opt.Router,
		grid:         opt.Grid,
		authService:  opt.AuthService,
		tokenManager: opt.TokenManager,
		locks:        opt.Locks,
		factory:      opt.Factory,
		realm:        opt.Factory.Config().GetRealm(),
		contextPath:  strings.TrimSuffix(opt.Factory.Config().ContextPath, "/"),
		secureCookie: opt.SecureCookie,
		logger:       opt.Logger,
	}
	p.registerRoutes()
	return p, nil
}

type proxy struct {
	router       *mux.Router
	grid         api.Grid
	authService  *auth_service.Service
	tokenManager api.TokenManager
	locks        api.LockManager
	factory      *resource.Factory
	realm        string
	contextPath  string
	secureCookie bool
	logger       *zap.Logger
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *proxy) registerRoutes() {
	p.handle("GET", p.get)
	p.handle("HEAD", p.head)
	p.handle("PUT", p.put)
	p.handle("MKCOL", p.mkcol)
	p.handle("DELETE", p.delete)
	p.handle("COPY", p.copy)
	p.handle("MOVE", p.move)
	p.handle("UNLOCK", p.unlock)

	// the XML methods are left to the protocol engine
	p.handle("PROPFIND", p.dav)
	p.handle("PROPPATCH", p.dav)
	p.handle("LOCK", p.dav)
	p.handle("OPTIONS", p.dav)
}

func (p *proxy) handle(method string, h http.HandlerFunc) {
	labels := prometheus.Labels{"method": method}
	var handler http.Handler = p.basicAuth(p.withSession(h))
	handler = promhttp.InstrumentHandlerCounter(requestsTotal.MustCurryWith(labels), handler)
	handler = promhttp.InstrumentHandlerDuration(requestDuration.MustCurryWith(labels), handler)

	if p.contextPath != "" {
		p.router.Handle(p.contextPath, handler).Methods(method)
	}
	p.router.Handle(p.contextPath+"/{path:.*}", handler).Methods(method)
}

func (p *proxy) challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", p.realm))
	w.WriteHeader(http.StatusUnauthorized)
}

// basicAuth binds the identity of the request. A valid session cookie
// whose session is still known to the auth service is enough; otherwise
// the Basic credentials are validated through the auth service.
func (p *proxy) basicAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if p.tokenManager != nil {
			if cookie, err := r.Cookie(SessionCookie); err == nil {
				claims, err := p.tokenManager.DismantleSessionToken(ctx, cookie.Value)
				if err != nil {
					p.logger.Warn("session cookie is invalid or no longer valid", zap.Error(err))
				} else if id, authID, ok := p.authService.ResumeSession(claims.SessionID); ok && id.User == claims.User {
					ctx = api.ContextSetIdentity(ctx, id)
					ctx = api.ContextSetAuthID(ctx, authID)
					p.logger.Debug("user authenticated with cookie", zap.String("user", id.User))
					h(w, r.WithContext(ctx))
					return
				} else {
					p.logger.Info("session cookie refers to an expired identity", zap.String("user", claims.User))
				}
			}
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			p.logger.Info("basic auth not provided or malformed")
			p.challenge(w)
			return
		}

		id, err := p.authService.Authenticate(ctx, username, password)
		if err != nil {
			if api.IsErrorCode(err, api.InvalidArgumentErrorCode) {
				p.logger.Info("empty credentials", zap.Error(err))
				p.challenge(w)
				return
			}
			p.writeError(w, r, err)
			return
		}

		authID := api.CredentialKey(username, password)
		if p.tokenManager != nil {
			p.setSessionCookie(w, r, id, authID)
		}

		ctx = api.ContextSetIdentity(ctx, id)
		ctx = api.ContextSetAuthID(ctx, authID)
		p.logger.Debug("request is authenticated", zap.String("user", id.User))
		h(w, r.WithContext(ctx))
	}
}

func (p *proxy) setSessionCookie(w http.ResponseWriter, r *http.Request, id *api.GridIdentity, authID string) {
	sid, err := p.authService.StartSession(authID)
	if err != nil {
		p.logger.Error("error starting session", zap.Error(err))
		return
	}
	token, err := p.tokenManager.ForgeSessionToken(r.Context(), &api.SessionClaims{User: id.User, SessionID: sid})
	if err != nil {
		p.logger.Error("error forging session token", zap.Error(err))
		return
	}
	cookiePath := p.contextPath
	if cookiePath == "" {
		cookiePath = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     cookiePath,
		HttpOnly: true,
		Secure:   p.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// withSession opens the grid session of the request and releases it when
// the handler returns, panics included.
func (p *proxy) withSession(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := api.ContextMustGetIdentity(ctx)
		if err != nil {
			p.writeError(w, r, err)
			return
		}

		sess, err := p.grid.Open(ctx, id)
		if err != nil {
			p.writeError(w, r, api.Wrap(err, api.TransportErrorCode, "open grid session"))
			return
		}
		openSessions.Inc()
		defer func() {
			openSessions.Dec()
			if err := sess.Close(); err != nil {
				p.logger.Error("error closing grid session", zap.String("user", id.User), zap.Error(err))
			}
		}()

		h(w, r.WithContext(api.ContextSetSession(ctx, sess)))
	}
}

// statusOf maps the error taxonomy to HTTP status codes.
func statusOf(err error) int {
	switch api.GetErrorCode(err) {
	case api.AuthenticationFailedErrorCode:
		return http.StatusUnauthorized
	case api.InvalidArgumentErrorCode, api.BadRequestErrorCode, api.PathResolutionErrorCode:
		return http.StatusBadRequest
	case api.NotFoundErrorCode:
		return http.StatusNotFound
	case api.AlreadyLockedErrorCode:
		return http.StatusLocked
	case api.LockPreconditionFailedErrorCode, api.AlreadyExistsErrorCode:
		return http.StatusPreconditionFailed
	case api.NotAuthorizedForLockErrorCode:
		return http.StatusForbidden
	case api.UnsupportedDestinationTypeErrorCode:
		return http.StatusBadGateway
	case api.DirectoryCreationErrorCode:
		return http.StatusConflict
	case api.FileSizeExceedsMaximumErrorCode:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (p *proxy) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusUnauthorized {
		p.logger.Warn("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
		p.challenge(w)
		return
	}
	if status == http.StatusInternalServerError {
		p.logger.Error("", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		p.logger.Warn("write error", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	w.WriteHeader(status)
}
