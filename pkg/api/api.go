package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/packages"
	"github.com/3FT-io/sidecar/pkg/proxy"
)

const cacheControl = "public, max-age=31536000"

type API struct {
	builds     *builds.Service
	packages   *packages.Service
	assemblies *assembly.Registry
	proxies    *proxy.Generator
	logger     *zap.Logger
	server     *http.Server
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewAPI(cfg *config.Config, buildService *builds.Service, packageService *packages.Service,
	registry *assembly.Registry, generator *proxy.Generator, logger *zap.Logger) (*API, error) {
	if buildService == nil || packageService == nil || registry == nil || generator == nil {
		return nil, fmt.Errorf("api: missing service")
	}

	api := &API{
		builds:     buildService,
		packages:   packageService,
		assemblies: registry,
		proxies:    generator,
		logger:     logger.With(zap.String("component", "api")),
	}

	router := mux.NewRouter()
	router.Use(api.requestLogger)
	api.setupRoutes(router)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "If-None-Match", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Length", "ETag", "X-Request-ID"},
		MaxAge:         300,
	})

	// A cold request may download a build and then compile a package.
	writeTimeout := cfg.DownloadTimeout + cfg.CompileTimeout + time.Minute

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      gzhttp.GzipHandler(corsHandler.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return api, nil
}

func (api *API) setupRoutes(router *mux.Router) {
	// Health check
	router.HandleFunc("/health", api.HealthCheck).Methods("GET")

	// Collections
	router.HandleFunc("/builds", api.ListBuilds).Methods("GET", "OPTIONS")
	router.HandleFunc("/builds/{hash}/inspect", api.InspectBuild).Methods("GET")
	router.HandleFunc("/packages", api.ListPackages).Methods("GET", "OPTIONS")
	router.HandleFunc("/assemblies", api.ListAssemblies).Methods("GET")

	// Storage status
	router.HandleFunc("/storage/status", api.GetStorageStatus).Methods("GET")

	// Runtime files
	router.HandleFunc("/mono.js", api.serveBuildFile(builds.MonoJS)).Methods("GET", "HEAD")
	router.HandleFunc("/mono.wasm", api.serveBuildFile(builds.MonoWasm)).Methods("GET", "HEAD")

	// Package files
	router.HandleFunc("/runtime.js", api.servePackageFile(packages.RuntimeJS)).Methods("GET", "HEAD")
	router.HandleFunc("/mono-config.js", api.servePackageFile(packages.MonoConfig)).Methods("GET", "HEAD")
	router.HandleFunc("/managed/{fileName}", api.ServeManagedLibrary).Methods("GET", "HEAD")

	// Proxies
	router.HandleFunc("/sidecar.js", api.serveProxy(proxy.JavaScript)).Methods("GET", "HEAD")
	router.HandleFunc("/sidecar.ts", api.serveProxy(proxy.TypeScript)).Methods("GET", "HEAD")
}

// Handler returns the complete middleware chain the server runs.
func (api *API) Handler() http.Handler {
	return api.server.Handler
}

func (api *API) Start() error {
	api.logger.Info("Starting API server", zap.String("addr", api.server.Addr))
	return api.server.ListenAndServe()
}

func (api *API) Stop(ctx context.Context) error {
	return api.server.Shutdown(ctx)
}

// Health check handler
func (api *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	api.sendResponse(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"status":   "healthy",
			"time":     time.Now().UTC().Format(time.RFC3339),
			"compiles": api.packages.Compiles(),
		},
	})
}

// Helper functions
func (api *API) sendResponse(w http.ResponseWriter, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (api *API) sendError(w http.ResponseWriter, message string, status int) {
	api.sendErrorDetail(w, message, "", status)
}

func (api *API) sendErrorDetail(w http.ResponseWriter, message, detail string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Message: message,
		Error:   detail,
	})
}

// sendContent writes hash-addressed content. Content for a hash never
// changes, so it may be cached for a year.
func (api *API) sendContent(w http.ResponseWriter, r *http.Request, hash, contentType string, data []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", fmt.Sprint(len(data)))
	h.Set("ETag", hash)
	h.Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		api.logger.Debug("Failed to write response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}
