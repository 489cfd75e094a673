package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/packages"
	"github.com/3FT-io/sidecar/pkg/proxy"
)

// List builds handler
func (api *API) ListBuilds(w http.ResponseWriter, r *http.Request) {
	hashes, err := api.builds.AvailableBuilds(r.Context())
	if err != nil {
		api.handleError(w, r, err)
		return
	}

	api.sendResponse(w, APIResponse{
		Success: true,
		Data:    hashes,
	})
}

// List packages handler
func (api *API) ListPackages(w http.ResponseWriter, r *http.Request) {
	hashes, err := api.packages.Store().AvailablePackages(r.Context())
	if err != nil {
		api.handleError(w, r, err)
		return
	}

	api.sendResponse(w, APIResponse{
		Success: true,
		Data:    hashes,
	})
}

// StorageStatus describes the build and package caches.
type StorageStatus struct {
	BuildLocation   string             `json:"build_location"`
	PackageLocation string             `json:"package_location"`
	Builds          []builds.Build     `json:"builds"`
	Packages        []packages.Package `json:"packages"`
	Compiles        int64              `json:"compiles"`
	CompileWaiting  int                `json:"compile_waiting"`
	CompileRunning  bool               `json:"compile_running"`
}

// Storage status handler
func (api *API) GetStorageStatus(w http.ResponseWriter, r *http.Request) {
	buildList, err := api.builds.Store().Builds(r.Context())
	if err != nil {
		api.handleError(w, r, err)
		return
	}
	packageList, err := api.packages.Store().Packages(r.Context())
	if err != nil {
		api.handleError(w, r, err)
		return
	}

	waiting, running := api.packages.Queue()
	api.sendResponse(w, APIResponse{
		Success: true,
		Data: StorageStatus{
			BuildLocation:   api.builds.Store().BasePath(),
			PackageLocation: api.packages.Store().BasePath(),
			Builds:          buildList,
			Packages:        packageList,
			Compiles:        api.packages.Compiles(),
			CompileWaiting:  waiting,
			CompileRunning:  running,
		},
	})
}

type assemblyInfo struct {
	Name     string `json:"name"`
	ModuleID string `json:"module_id"`
	Types    int    `json:"types"`
}

// List assemblies handler
func (api *API) ListAssemblies(w http.ResponseWriter, r *http.Request) {
	registered := api.assemblies.List()
	infos := make([]assemblyInfo, 0, len(registered))
	for _, a := range registered {
		infos = append(infos, assemblyInfo{
			Name:     a.Name,
			ModuleID: a.Identity(),
			Types:    len(a.Types),
		})
	}

	api.sendResponse(w, APIResponse{
		Success: true,
		Data:    infos,
	})
}

// Inspect build handler
func (api *API) InspectBuild(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if !builds.ValidHash(hash) {
		api.sendError(w, "Invalid build hash.", http.StatusBadRequest)
		return
	}

	info, err := api.builds.Inspect(r.Context(), hash)
	if err != nil {
		api.handleError(w, r, err)
		return
	}

	api.sendResponse(w, APIResponse{
		Success: true,
		Data:    info,
	})
}

func (api *API) serveBuildFile(file builds.File) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if api.notModified(w, r, api.builds.AvailableBuilds) {
			return
		}

		buildHash, ok := api.resolveBuild(w, r)
		if !ok {
			return
		}

		data, err := api.builds.LoadBuildFile(r.Context(), buildHash, file)
		if err != nil {
			api.handleError(w, r, err)
			return
		}

		api.sendContent(w, r, buildHash, file.ContentType(), data)
	}
}

func (api *API) servePackageFile(file packages.File) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("p")
		if name == "" {
			api.sendError(w, "Package name required.", http.StatusBadRequest)
			return
		}
		if api.notModified(w, r, api.packages.Store().AvailablePackages) {
			return
		}

		hash, ok := api.ensurePackage(w, r, name)
		if !ok {
			return
		}

		data, err := api.packages.Store().LoadPackageFile(r.Context(), hash, file)
		if err != nil {
			api.handleError(w, r, err)
			return
		}

		api.sendContent(w, r, hash, file.ContentType(), data)
	}
}

// Managed library handler. Without a package name the newest compiled
// package is used.
func (api *API) ServeManagedLibrary(w http.ResponseWriter, r *http.Request) {
	fileName := mux.Vars(r)["fileName"]
	if api.notModified(w, r, api.packages.Store().AvailablePackages) {
		return
	}

	var hash string
	if name := r.URL.Query().Get("p"); name != "" {
		var ok bool
		if hash, ok = api.ensurePackage(w, r, name); !ok {
			return
		}
	} else {
		hashes, err := api.packages.Store().AvailablePackages(r.Context())
		if err != nil {
			api.handleError(w, r, err)
			return
		}
		if len(hashes) == 0 {
			api.sendError(w, "No package found.", http.StatusNotFound)
			return
		}
		hash = hashes[0]
	}

	data, err := api.packages.Store().LoadManagedLibrary(r.Context(), hash, fileName)
	if err != nil {
		api.handleError(w, r, err)
		return
	}

	api.sendContent(w, r, hash, managedContentType(fileName), data)
}

func (api *API) serveProxy(lang proxy.Language) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("p")
		if name == "" {
			api.sendError(w, "Package name required.", http.StatusBadRequest)
			return
		}
		if api.notModified(w, r, api.packages.Store().AvailablePackages) {
			return
		}

		// The ETag names the package, so it must exist before the proxy
		// is served.
		hash, ok := api.ensurePackage(w, r, name)
		if !ok {
			return
		}

		out, err := api.proxies.Generate(r.Context(), name, lang)
		if err != nil {
			api.handleError(w, r, err)
			return
		}

		api.sendContent(w, r, hash, lang.ContentType(), []byte(out))
	}
}

// resolveBuild pins the build a request targets: the v query parameter
// when given, the latest stable build otherwise.
func (api *API) resolveBuild(w http.ResponseWriter, r *http.Request) (string, bool) {
	version := r.URL.Query().Get("v")
	if version != "" && !builds.ValidHash(version) {
		api.sendError(w, fmt.Sprintf("Invalid build version '%s'.", version), http.StatusBadRequest)
		return "", false
	}

	hash, err := api.builds.BuildByVersion(r.Context(), version)
	switch {
	case err == nil:
		return hash, true
	case version != "" && errors.Is(err, builds.ErrBuildNotFound):
		api.sendError(w, fmt.Sprintf("Specified build %s not found.", version), http.StatusNotFound)
	case errors.Is(err, builds.ErrBuildNotFound), errors.Is(err, builds.ErrNoStableBuild):
		api.sendError(w, "No builds found.", http.StatusNotFound)
	default:
		api.handleError(w, r, err)
	}
	return "", false
}

// ensurePackage resolves the build and assembly of a request and makes
// sure their package is compiled.
func (api *API) ensurePackage(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	buildHash, ok := api.resolveBuild(w, r)
	if !ok {
		return "", false
	}

	asm, err := api.assemblies.FindByName(name)
	if err != nil {
		api.sendError(w, fmt.Sprintf("No package assemblies found matching name '%s'.", name), http.StatusNotFound)
		return "", false
	}

	hash, err := api.packages.Ensure(r.Context(), asm, buildHash)
	if err != nil {
		api.handleError(w, r, err)
		return "", false
	}
	return hash, true
}

// handleError maps service errors to responses. Anything unexpected is
// logged and reported as a 500.
func (api *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var compileErr *packages.CompileError

	switch {
	case errors.As(err, &compileErr):
		detail := ""
		if compileErr.Result != nil {
			detail = compileErr.Result.Errors
		}
		api.logger.Warn("Package compile error",
			zap.String("package", compileErr.PackageHash),
			zap.String("path", r.URL.Path),
		)
		api.sendErrorDetail(w, "Package compile error.", detail, http.StatusInternalServerError)
	case errors.Is(err, builds.ErrBuildNotFound):
		api.sendError(w, "Build not found.", http.StatusNotFound)
	case errors.Is(err, builds.ErrFileNotFound):
		api.sendError(w, "Build file not found.", http.StatusNotFound)
	case errors.Is(err, packages.ErrPackageNotFound):
		api.sendError(w, "Package not found.", http.StatusNotFound)
	case errors.Is(err, packages.ErrFileNotFound):
		api.sendError(w, "Package file not found.", http.StatusNotFound)
	case errors.Is(err, assembly.ErrAssemblyNotFound):
		api.sendError(w, "Package assembly not found.", http.StatusNotFound)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		api.logger.Debug("Request cancelled", zap.String("path", r.URL.Path))
		api.sendError(w, "Request cancelled.", http.StatusServiceUnavailable)
	default:
		api.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		api.sendErrorDetail(w, "Internal server error.", err.Error(), http.StatusInternalServerError)
	}
}

func managedContentType(fileName string) string {
	switch path.Ext(fileName) {
	case ".wasm":
		return "application/wasm"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
