package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/api"
	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/packages"
	"github.com/3FT-io/sidecar/pkg/proxy"
	"github.com/3FT-io/sidecar/pkg/testutil"
)

const buildHash = "abc12345678"

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// fakeCompiler publishes a package per call unless fail is set.
type fakeCompiler struct {
	store *packages.Store
	calls atomic.Int32
	delay time.Duration
	fail  bool
}

func (c *fakeCompiler) Compile(ctx context.Context, asm *assembly.Assembly, build string) (*packages.Result, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)

	if c.fail {
		return &packages.Result{Errors: "error CS0246: The type or namespace name 'Foo' could not be found\n"}, nil
	}

	hash := packages.PackageHash(asm, build)
	staging, err := c.store.StagingDir(hash)
	if err != nil {
		return nil, err
	}
	files := map[string]string{
		"runtime.js":         "// runtime " + hash,
		"mono-config.js":     "config = { assemblies: ['MyLib.dll'] };",
		"managed/MyLib.dll":  "MZ",
		"managed/System.dll": "MZ",
	}
	for name, content := range files {
		path := filepath.Join(staging, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, err
		}
	}
	if err := c.store.Publish(staging, hash); err != nil {
		return nil, err
	}
	return &packages.Result{Successful: true}, nil
}

type fixture struct {
	handler  http.Handler
	compiler *fakeCompiler
	asm      *assembly.Assembly
}

func pointAssembly() *assembly.Assembly {
	ref := assembly.MustParseTypeRef
	return &assembly.Assembly{Name: "MyLib", Types: []*assembly.Type{
		{Namespace: "MyLib", Name: "Point", Kind: assembly.KindClass, Members: []*assembly.Member{
			{Name: "X", Kind: assembly.MemberProperty, Type: ref("int")},
			{Name: "Y", Kind: assembly.MemberProperty, Type: ref("int")},
			{Name: "Add", Kind: assembly.MemberMethod, Type: ref("MyLib.Point"), Static: true, Parameters: []assembly.Parameter{
				{Name: "other", Type: ref("MyLib.Point")},
			}},
		}},
	}}
}

func setupTestAPI(t *testing.T, withBuild bool) *fixture {
	logger := zap.NewNop()

	cfg := config.DefaultConfig()
	cfg.BuildLocation = t.TempDir()
	cfg.PackageLocation = t.TempDir()
	cfg.FetchArtifactsWhenMissing = false

	if withBuild {
		testutil.CreateZip(t, filepath.Join(cfg.BuildLocation, builds.ArchiveName(buildHash)), testutil.BuildArchive())
	}

	buildStore, err := builds.NewStore(cfg.BuildLocation, logger)
	require.NoError(t, err)
	packageStore, err := packages.NewStore(cfg.PackageLocation, logger)
	require.NoError(t, err)

	compiler := &fakeCompiler{store: packageStore}
	asm := pointAssembly()
	registry, err := assembly.NewRegistry(logger, asm)
	require.NoError(t, err)

	apiInstance, err := api.NewAPI(cfg,
		builds.NewService(buildStore, nil, cfg, logger),
		packages.NewService(packageStore, compiler, buildStore, packages.NewGate(), logger),
		registry,
		proxy.NewGenerator(registry, logger),
		logger,
	)
	require.NoError(t, err)

	return &fixture{handler: apiInstance.Handler(), compiler: compiler, asm: asm}
}

func (f *fixture) do(method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	var response APIResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestHealthCheck(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.True(t, decode(t, w).Success)
}

func TestListBuildsAndPackages(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("OPTIONS", "/builds")
	require.Equal(t, http.StatusOK, w.Code)
	response := decode(t, w)
	assert.True(t, response.Success)
	assert.Equal(t, []interface{}{buildHash}, response.Data)

	w = f.do("OPTIONS", "/packages")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w).Data)

	require.Equal(t, http.StatusOK, f.do("GET", "/runtime.js?p=MyLib").Code)

	w = f.do("OPTIONS", "/packages")
	assert.Equal(t, []interface{}{packages.PackageHash(f.asm, buildHash)}, decode(t, w).Data)
}

func TestServeBuildFile(t *testing.T) {
	f := setupTestAPI(t, true)

	for _, target := range []string{"/mono.js", "/mono.js?v=" + buildHash} {
		w := f.do("GET", target)
		require.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, "var Module = {};", w.Body.String())
		assert.Equal(t, buildHash, w.Header().Get("ETag"))
		assert.Equal(t, "public, max-age=31536000", w.Header().Get("Cache-Control"))
		assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	}

	w := f.do("GET", "/mono.wasm")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testutil.MinimalWasm, w.Body.Bytes())
	assert.Equal(t, "application/wasm", w.Header().Get("Content-Type"))
}

func TestServeBuildFileUnknownVersion(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/mono.js?v=deadbeef000")
	assert.Equal(t, http.StatusNotFound, w.Code)
	response := decode(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "Specified build deadbeef000 not found.", response.Message)

	w = f.do("GET", "/mono.js?v=../etc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeBuildFileNoBuilds(t *testing.T) {
	f := setupTestAPI(t, false)

	w := f.do("GET", "/mono.js")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No builds found.", decode(t, w).Message)
}

func TestBuildFileNotModified(t *testing.T) {
	f := setupTestAPI(t, true)

	for _, tag := range []string{buildHash, `"` + buildHash + `"`, `W/"` + buildHash + `"`, `"other", "` + buildHash + `"`} {
		w := f.do("GET", "/mono.wasm", "If-None-Match", tag)
		assert.Equal(t, http.StatusNotModified, w.Code, tag)
		assert.Empty(t, w.Body.Bytes(), tag)
	}

	w := f.do("GET", "/mono.wasm", "If-None-Match", `"other"`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPackageFileCompilesOnce(t *testing.T) {
	f := setupTestAPI(t, true)
	hash := packages.PackageHash(f.asm, buildHash)

	w := f.do("GET", "/runtime.js?p=MyLib")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "// runtime "+hash, w.Body.String())
	assert.Equal(t, hash, w.Header().Get("ETag"))
	assert.Equal(t, "public, max-age=31536000", w.Header().Get("Cache-Control"))
	assert.Equal(t, int32(1), f.compiler.calls.Load())

	w = f.do("GET", "/mono-config.js?p=mylib&v="+buildHash)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MyLib.dll")
	assert.Equal(t, int32(1), f.compiler.calls.Load())

	w = f.do("GET", "/runtime.js?p=MyLib", "If-None-Match", hash)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestPackageFileConcurrentRequestsShareCompile(t *testing.T) {
	f := setupTestAPI(t, true)
	f.compiler.delay = 50 * time.Millisecond

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.do("GET", "/mono-config.js?p=MyLib").Code
		}(i)
	}
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, int32(1), f.compiler.calls.Load())
}

func TestPackageFileRequiresPackage(t *testing.T) {
	f := setupTestAPI(t, true)

	for _, target := range []string{"/runtime.js", "/mono-config.js", "/sidecar.js", "/sidecar.ts"} {
		w := f.do("GET", target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "Package name required.", decode(t, w).Message)
	}
}

func TestPackageFileUnknownPackage(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/runtime.js?p=Nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No package assemblies found matching name 'Nope'.", decode(t, w).Message)
	assert.Zero(t, f.compiler.calls.Load())
}

func TestPackageFileCompileFailure(t *testing.T) {
	f := setupTestAPI(t, true)
	f.compiler.fail = true

	w := f.do("GET", "/runtime.js?p=MyLib")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	response := decode(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, "Package compile error.", response.Message)
	assert.Contains(t, response.Error, "CS0246")

	// Failures are not cached.
	f.do("GET", "/runtime.js?p=MyLib")
	assert.Equal(t, int32(2), f.compiler.calls.Load())
}

func TestServeProxy(t *testing.T) {
	f := setupTestAPI(t, true)
	hash := packages.PackageHash(f.asm, buildHash)

	w := f.do("GET", "/sidecar.ts?p=MyLib")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/typescript", w.Header().Get("Content-Type"))
	assert.Equal(t, hash, w.Header().Get("ETag"))
	assert.Contains(t, w.Body.String(), "export class Point {")
	assert.Equal(t, int32(1), f.compiler.calls.Load())

	w = f.do("GET", "/sidecar.js?p=MyLib")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `Module.mono_bind_static_method("[MyLib] MyLib.Point:Add")`)

	w = f.do("GET", "/sidecar.js?p=MyLib", "If-None-Match", hash)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestServeManagedLibrary(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/managed/MyLib.dll")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No package found.", decode(t, w).Message)

	w = f.do("GET", "/managed/MyLib.dll?p=MyLib")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MZ", w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	w = f.do("GET", "/managed/System.dll")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, packages.PackageHash(f.asm, buildHash), w.Header().Get("ETag"))

	w = f.do("GET", "/managed/Missing.dll")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInspectBuild(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/builds/"+buildHash+"/inspect")
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := decode(t, w).Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, buildHash, data["build_hash"])
	assert.Equal(t, []interface{}{"run"}, data["exports"])

	w = f.do("GET", "/builds/unknown0000/inspect")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/mono.js", "Origin", "https://app.example.com")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStorageStatus(t *testing.T) {
	f := setupTestAPI(t, true)
	require.Equal(t, http.StatusOK, f.do("GET", "/runtime.js?p=MyLib").Code)

	w := f.do("GET", "/storage/status")
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := decode(t, w).Data.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, data["builds"], 1)
	assert.Len(t, data["packages"], 1)
	assert.Equal(t, float64(1), data["compiles"])
	assert.Equal(t, false, data["compile_running"])
}

func TestListAssemblies(t *testing.T) {
	f := setupTestAPI(t, true)

	w := f.do("GET", "/assemblies")
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := decode(t, w).Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	info := list[0].(map[string]interface{})
	assert.Equal(t, "MyLib", info["name"])
	assert.Equal(t, f.asm.Identity(), info["module_id"])
}
