package builds_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/testutil"
)

type upstream struct {
	server    *httptest.Server
	indexHits atomic.Int32
	downloads atomic.Int32
}

func newUpstream(t *testing.T, archive []byte) *upstream {
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/job/lastStableBuild/", func(w http.ResponseWriter, r *http.Request) {
		u.indexHits.Add(1)
		fmt.Fprint(w, `<h1>Build #42</h1><a href="https://github.com/mono/mono/commit/abc12345678ffff">abc</a>`)
	})
	mux.HandleFunc("/artifacts/42/mono-wasm-abc12345678.zip", func(w http.ResponseWriter, r *http.Request) {
		u.downloads.Add(1)
		w.Write(archive)
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ArtifactServer = u.server.URL + "/job/lastStableBuild/"
	cfg.ArtifactMask = u.server.URL + "/artifacts/{buildNumber}/mono-wasm-{buildHash}.zip"
	return cfg
}

func TestResolverFetchLatestStableBuild(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, testutil.ZipBytes(t, testutil.BuildArchive()))
	store, _ := newStore(t)
	resolver := builds.NewResolver(up.config(), store, zap.NewNop())

	hash, err := resolver.FetchLatestStableBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc12345678", hash)
	assert.FileExists(t, store.ArchivePath(hash))

	// Already downloaded: only the index is consulted.
	hash, err = resolver.FetchLatestStableBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc12345678", hash)
	assert.EqualValues(t, 1, up.downloads.Load())
	assert.EqualValues(t, 2, up.indexHits.Load())

	hashes, err := store.AvailableBuilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc12345678"}, hashes)

	data, err := store.LoadBuildFile(ctx, hash, builds.MonoWasm)
	require.NoError(t, err)
	assert.Equal(t, testutil.MinimalWasm, data)
}

func TestResolverConcurrentFetch(t *testing.T) {
	ctx := context.Background()
	up := newUpstream(t, testutil.ZipBytes(t, testutil.BuildArchive()))
	store, _ := newStore(t)
	resolver := builds.NewResolver(up.config(), store, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hash, err := resolver.FetchLatestStableBuild(ctx)
			assert.NoError(t, err)
			results[i] = hash
		}(i)
	}
	wg.Wait()

	for _, hash := range results {
		assert.Equal(t, "abc12345678", hash)
	}
	assert.EqualValues(t, 1, up.downloads.Load())
}

func TestResolverUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.ArtifactServer = server.URL
	store, dir := newStore(t)
	resolver := builds.NewResolver(cfg, store, zap.NewNop())

	_, err := resolver.FetchLatestStableBuild(context.Background())
	assert.ErrorIs(t, err, builds.ErrNoStableBuild)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolverMissingArchive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index" {
			fmt.Fprint(w, `<h1>Build #1</h1><table><tr><td>Revision: deadbeef00000</td></tr></table>`)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.ArtifactServer = server.URL + "/index"
	cfg.ArtifactMask = server.URL + "/{buildNumber}/{buildHash}.zip"
	store, dir := newStore(t)
	resolver := builds.NewResolver(cfg, store, zap.NewNop())

	_, err := resolver.FetchLatestStableBuild(context.Background())
	assert.ErrorIs(t, err, builds.ErrNoStableBuild)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial archive is left behind")
}

func TestResolverCanceled(t *testing.T) {
	up := newUpstream(t, testutil.ZipBytes(t, testutil.BuildArchive()))
	store, _ := newStore(t)
	resolver := builds.NewResolver(up.config(), store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resolver.FetchLatestStableBuild(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestArtifactURL(t *testing.T) {
	store, _ := newStore(t)
	resolver := builds.NewResolver(config.DefaultConfig(), store, zap.NewNop())

	url := resolver.ArtifactURL(builds.Index{BuildNumber: "7", BuildHash: "abc"})
	assert.Equal(t,
		"https://xamjenkinsartifact.azureedge.net/test-mono-mainline-wasm/7/ubuntu-1804-amd64/sdks/wasm/mono-wasm-abc.zip",
		url,
	)
}
