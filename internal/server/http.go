package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatgate/config"
	"chatgate/internal/catalog"
	"chatgate/internal/core"
	"chatgate/internal/observability"
	"chatgate/internal/shaper"
	"chatgate/internal/usage"
)

const (
	healthPath         = "/health"
	defaultMetricsPath = "/metrics"
)

// Server is the OpenAI-compatible HTTP front end of the gateway.
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Upstream is the target used when a request carries no override headers.
type Upstream struct {
	Endpoint      string
	APIKey        string
	AggregatorKey string
	Headers       map[string]string
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // empty disables authentication
	MetricsEnabled  bool
	MetricsEndpoint string // default /metrics
	BodySizeLimit   int64  // bytes, default config.DefaultBodySizeLimit

	Upstream Upstream
	Defaults core.GenerationConfig
	Shaper   shaper.Options
	Usage    usage.Sink
}

func (c Config) withDefaults() Config {
	if c.Defaults.Model == "" {
		c.Defaults = core.DefaultGenerationConfig()
	}
	if c.BodySizeLimit <= 0 {
		c.BodySizeLimit = config.DefaultBodySizeLimit
	}
	if c.MetricsEndpoint == "" {
		c.MetricsEndpoint = defaultMetricsPath
	}
	// cleaned so "/metrics/../v1/models" cannot become a public path
	c.MetricsEndpoint = path.Clean("/" + c.MetricsEndpoint)
	return c
}

// New builds the server. A nil cfg serves with defaults and no auth.
func New(gw core.Completer, models *catalog.Catalog, cfg *Config) *Server {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	c = c.withDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := NewHandler(gw, models, c)

	e.Use(requestID(), requestLogger(), middleware.Recover(),
		middleware.BodyLimit(strconv.FormatInt(c.BodySizeLimit, 10)))

	public := []string{healthPath}
	if c.MetricsEnabled {
		e.Use(observability.Middleware())
		public = append(public, c.MetricsEndpoint)
	}
	if c.MasterKey != "" {
		e.Use(AuthMiddleware(c.MasterKey, public))
	}

	e.GET(healthPath, h.Health)
	if c.MetricsEnabled {
		e.GET(c.MetricsEndpoint, echo.WrapHandler(promhttp.Handler()))
	}

	v1 := e.Group("/v1")
	v1.GET("/models", h.ListModels)
	v1.POST("/chat/completions", h.ChatCompletion)

	return &Server{echo: e, handler: h}
}

// requestID assigns X-Request-ID when the caller sent none and stores it
// in the request context.
func requestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			r := c.Request()
			c.SetRequest(r.WithContext(core.WithRequestID(r.Context(), id)))
		},
	})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, "error", v.Error)
			}
			slog.Log(context.Background(), level, "request", attrs...)
			return nil
		},
	})
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
