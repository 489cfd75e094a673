package builds

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/config"
)

// LatestResolver resolves and fetches the latest stable upstream build.
type LatestResolver interface {
	FetchLatestStableBuild(ctx context.Context) (string, error)
}

// Service answers which build a request should use.
type Service struct {
	store            *Store
	resolver         LatestResolver
	fetchWhenMissing bool
	fallback         bool
	logger           *zap.Logger
}

// NewService wires a store and resolver together. resolver may be nil, in
// which case only cached builds are used.
func NewService(store *Store, resolver LatestResolver, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:            store,
		resolver:         resolver,
		fetchWhenMissing: cfg.FetchArtifactsWhenMissing,
		fallback:         cfg.FallbackToCachedBuild,
		logger:           logger.With(zap.String("component", "build-service")),
	}
}

// Store returns the underlying build store.
func (s *Service) Store() *Store {
	return s.store
}

// AvailableBuilds returns archived build hashes, newest first.
func (s *Service) AvailableBuilds(ctx context.Context) ([]string, error) {
	return s.store.AvailableBuilds(ctx)
}

// LatestStableBuild returns the build to use when a request names none.
// With fetching enabled the upstream index decides; otherwise the newest
// cached build is used.
func (s *Service) LatestStableBuild(ctx context.Context) (string, error) {
	if !s.fetchWhenMissing || s.resolver == nil {
		return s.newestCached(ctx)
	}

	hash, err := s.resolver.FetchLatestStableBuild(ctx)
	if err == nil {
		return hash, nil
	}
	if ctx.Err() != nil || !s.fallback || !errors.Is(err, ErrNoStableBuild) {
		return "", err
	}

	hash, cerr := s.newestCached(ctx)
	if cerr != nil {
		return "", err
	}
	s.logger.Info("Falling back to cached build", zap.String("build", hash), zap.Error(err))
	return hash, nil
}

// BuildByVersion resolves an explicit version, or the latest stable build
// when version is empty.
func (s *Service) BuildByVersion(ctx context.Context, version string) (string, error) {
	if version == "" {
		return s.LatestStableBuild(ctx)
	}

	ok, err := s.store.HasBuild(ctx, version)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBuildNotFound
	}
	return version, nil
}

// LoadBuildFile reads a runtime file out of a build archive.
func (s *Service) LoadBuildFile(ctx context.Context, hash string, file File) ([]byte, error) {
	return s.store.LoadBuildFile(ctx, hash, file)
}

// Provision extracts a build for use by the packager.
func (s *Service) Provision(ctx context.Context, hash string) (string, error) {
	return s.store.Provision(ctx, hash)
}

// Inspect describes the wasm binary of a build.
func (s *Service) Inspect(ctx context.Context, hash string) (*ModuleInfo, error) {
	return s.store.Inspect(ctx, hash)
}

func (s *Service) newestCached(ctx context.Context) (string, error) {
	hashes, err := s.store.AvailableBuilds(ctx)
	if err != nil {
		return "", err
	}
	if len(hashes) == 0 {
		return "", ErrBuildNotFound
	}
	return hashes[0], nil
}
