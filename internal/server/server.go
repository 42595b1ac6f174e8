package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/pluginguard/internal/infra"
	"github.com/xela07ax/pluginguard/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — HTTP-поверхность движка: рантайм-гейт для хоста плагинов,
// approval-поверхность для операторов и представления аудита.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	authValidator auth.TokenValidator

	authHandler   *AuthHandler   // /auth/token
	pluginHandler *PluginHandler // /v1/plugins
	auditHandler  *AuditHandler  // /v1/audit
}

func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	metrics *infra.Metrics,
	authH *AuthHandler,
	pluginH *PluginHandler,
	auditH *AuditHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("http"),
		cfg:           cfg,
		authValidator: validator,
		authHandler:   authH,
		pluginHandler: pluginH,
		auditHandler:  auditH,
	}

	s.routes(metrics)
	return s
}

func (s *Server) routes(metrics *infra.Metrics) {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware(metrics))

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/plugins/{id}", func(r chi.Router) {
			// Регистрация и решения пользователя
			r.Post("/register", s.pluginHandler.Register)
			r.Post("/enable", s.pluginHandler.Enable)
			r.Get("/permissions", s.pluginHandler.Permissions)
			r.Post("/grants", s.pluginHandler.Grant)
			r.Post("/denials", s.pluginHandler.Deny)
			r.Post("/disable", s.pluginHandler.Disable)
			r.Post("/reenable", s.pluginHandler.Reenable)

			// Рантайм плагинов
			r.Get("/access", s.pluginHandler.Access)
			r.Post("/violations", s.pluginHandler.ReportViolation)
			r.Post("/data-access", s.pluginHandler.ReportDataAccess)
			r.Post("/errors", s.pluginHandler.RecordError)
			r.Post("/success", s.pluginHandler.RecordSuccess)

			// Наблюдаемость
			r.Get("/summary", s.pluginHandler.Summary)
			r.Get("/anomalies", s.pluginHandler.Anomalies)
			r.Get("/state", s.pluginHandler.State)
		})

		// Аудит (Observability)
		r.Get("/v1/audit", s.auditHandler.GetEvents)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
