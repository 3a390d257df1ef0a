package httpx

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/ibb-transit/crowdcast/internal/sched"
	"github.com/ibb-transit/crowdcast/internal/service"
	"github.com/ibb-transit/crowdcast/internal/topology"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	ForecastRead *service.ForecastReadService
	Forecast     *service.ForecastService
	Lines        *service.LineService
	Bus          *service.BusCacheService
	Metro        *service.MetroCacheService
	MetroLive    *service.MetroLiveService
	Status       *service.StatusService
	Scheduler    *sched.Scheduler
	Registrar    *service.JobRegistrar
	Reports      *service.ReportService
	Auth         *service.AuthService
	Topology     *topology.Topology
	Shapes       *topology.Shapes
	// AllowedOrigins configures CORS; empty means same-origin only.
	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	forecastHandlers := &ForecastHandlers{Read: services.ForecastRead, Engine: services.Forecast}
	lineHandlers := &LineHandlers{Lines: services.Lines, Bus: services.Bus, Shapes: services.Shapes}
	metroHandlers := &MetroHandlers{Cache: services.Metro, Live: services.MetroLive, Topology: services.Topology}
	reportHandlers := &ReportHandlers{Reports: services.Reports}
	authHandlers := &AuthHandlers{Auth: services.Auth}
	adminHandlers := &AdminHandlers{
		Status:    services.Status,
		Jobs:      services.Registrar,
		Reports:   services.Reports,
		Bus:       services.Bus,
		Metro:     services.Metro,
		Scheduler: services.Scheduler,
	}

	registerForecastRoutes(mux, forecastHandlers)
	registerLineRoutes(mux, lineHandlers)
	registerMetroRoutes(mux, metroHandlers)
	registerAdminRoutes(mux, adminHandlers, services.Auth)
	mux.HandleFunc("POST /reports", reportHandlers.Submit)
	mux.HandleFunc("POST /auth/login", authHandlers.Login)
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if len(services.AllowedOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   services.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		})(handler)
	}
	return handler
}

func registerForecastRoutes(mux *http.ServeMux, h *ForecastHandlers) {
	mux.HandleFunc("GET /forecast/{line_name}", h.Daily)
	mux.HandleFunc("POST /predict", h.Nowcast)
}

func registerLineRoutes(mux *http.ServeMux, h *LineHandlers) {
	// The literal "search" segment is more specific than {line_name}, so the
	// mux routes /lines/search here rather than to Get.
	mux.HandleFunc("GET /lines", h.List)
	mux.HandleFunc("GET /lines/search", h.Search)
	mux.HandleFunc("GET /lines/{line_name}", h.Get)
	mux.HandleFunc("GET /lines/{line_code}/schedule", h.Schedule)
	mux.HandleFunc("GET /lines/{line_code}/route", h.Route)
}

func registerMetroRoutes(mux *http.ServeMux, h *MetroHandlers) {
	mux.HandleFunc("POST /metro/schedule", h.Schedule)
	mux.HandleFunc("POST /metro/duration", h.Duration)
	mux.HandleFunc("GET /metro/status", h.Status)
}

func registerAdminRoutes(mux *http.ServeMux, h *AdminHandlers, auth *service.AuthService) {
	wrap := func(hh http.HandlerFunc) http.Handler {
		if auth != nil {
			return RequireAuth(auth)(hh)
		}
		return hh
	}
	mux.Handle("GET /admin/scheduler/status", wrap(h.SchedulerStatus))
	mux.Handle("POST /admin/scheduler/pause", wrap(h.PauseScheduler))
	mux.Handle("POST /admin/scheduler/resume", wrap(h.ResumeScheduler))
	mux.Handle("POST /admin/scheduler/trigger/forecast", wrap(h.TriggerForecast))
	mux.Handle("POST /admin/scheduler/trigger/bus", wrap(h.TriggerBusPrefetch))
	mux.Handle("POST /admin/scheduler/trigger/metro", wrap(h.TriggerMetroPrefetch))
	mux.Handle("POST /admin/jobs/reset", wrap(h.ResetJobs))
	mux.Handle("GET /admin/dashboard", wrap(h.Dashboard))
	mux.Handle("POST /admin/features/reset-fallback", wrap(h.ResetFallbackStats))
	mux.Handle("POST /admin/cache/bus/{line_code}/refresh", wrap(h.RefreshBusLine))
	mux.Handle("POST /admin/cache/metro/{station_id}/{direction_id}/refresh", wrap(h.RefreshMetroPair))
	mux.Handle("GET /admin/reports", wrap(h.ListReports))
	mux.Handle("PATCH /admin/reports/{id}", wrap(h.UpdateReportStatus))
}
