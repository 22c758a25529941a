// Package httptransport реализует REST API сервиса заказов на chi.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderserver/internal/metrics"
)

// APIPrefix: общий префикс REST API.
const APIPrefix = "/api/v1"

const defaultRequestTimeout = 15 * time.Second

// Options задаёт параметры роутера.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Metrics        *metrics.OrderMetrics
	Logger         *log.Entry
	Now            func() time.Time
}

// NewRouter собирает REST API: /orders, /items, /order-lines.
func NewRouter(orderService OrderService, catalogService CatalogService, opts Options) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	mapper := errorMapper{logger: opts.Logger, now: opts.Now}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(opts.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(opts.RequestTimeout))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	router.Use(requestMetrics(opts.Metrics))

	router.NotFound(mapper.wrap(func(http.ResponseWriter, *http.Request) error {
		return errRouteNotFound
	}))

	router.Route(APIPrefix, func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			ordersHandler{service: orderService}.routes(r, mapper)
		})
		catalog := catalogHandler{service: catalogService}
		r.Route("/items", func(r chi.Router) {
			catalog.itemRoutes(r, mapper)
		})
		r.Route("/order-lines", func(r chi.Router) {
			catalog.lineRoutes(r, mapper)
		})
	})

	return router
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

func requestMetrics(m *metrics.OrderMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
		})
	}
}
