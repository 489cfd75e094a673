package builds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/flight"
)

// Resolver finds the latest stable upstream build and downloads its archive.
type Resolver struct {
	server  string
	mask    string
	marker  string
	timeout time.Duration
	store   *Store
	client  *http.Client
	logger  *zap.Logger
	flights flight.Group
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient replaces the client used for the index and archive.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.client = client
	}
}

// NewResolver creates a resolver that downloads into store.
func NewResolver(cfg *config.Config, store *Store, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		server:  cfg.ArtifactServer,
		mask:    cfg.ArtifactMask,
		marker:  cfg.CommitURLMarker,
		timeout: cfg.DownloadTimeout,
		store:   store,
		client:  http.DefaultClient,
		logger:  logger.With(zap.String("component", "build-resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ArtifactURL interpolates idx into the configured archive URL template.
func (r *Resolver) ArtifactURL(idx Index) string {
	return strings.NewReplacer(
		"{buildNumber}", idx.BuildNumber,
		"{buildHash}", idx.BuildHash,
	).Replace(r.mask)
}

// FetchLatestStableBuild returns the hash of the latest stable build,
// downloading its archive unless it is already stored. Upstream failures
// are logged and reported as ErrNoStableBuild. Concurrent callers share
// one fetch.
func (r *Resolver) FetchLatestStableBuild(ctx context.Context) (string, error) {
	hash, shared, err := r.flights.Do(ctx, r.server, r.fetch)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("Failed to fetch latest stable build",
			zap.String("server", r.server),
			zap.Error(err),
		)
		if errors.Is(err, ErrNoStableBuild) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrNoStableBuild, err)
	}

	r.logger.Debug("Resolved latest stable build", zap.String("build", hash), zap.Bool("shared", shared))
	return hash, nil
}

func (r *Resolver) fetch(ctx context.Context) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	idx, err := r.fetchIndex(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Debug("Found build",
		zap.String("build_number", idx.BuildNumber),
		zap.String("build", idx.BuildHash),
	)

	archivePath := r.store.ArchivePath(idx.BuildHash)
	if _, err := os.Stat(archivePath); err == nil {
		r.logger.Debug("Build archive already fetched", zap.String("build", idx.BuildHash))
		return idx.BuildHash, nil
	}

	artifactURL := r.ArtifactURL(idx)
	r.logger.Info("Downloading build archive",
		zap.String("url", artifactURL),
		zap.String("path", archivePath),
	)
	if err := r.download(ctx, artifactURL, archivePath); err != nil {
		return "", err
	}

	return idx.BuildHash, nil
}

func (r *Resolver) fetchIndex(ctx context.Context) (Index, error) {
	body, err := r.get(ctx, r.server)
	if err != nil {
		return Index{}, err
	}
	defer body.Close()

	return ParseIndex(body, r.marker)
}

// download writes to a temporary file next to path and renames it into
// place, so the store never lists a partial archive.
func (r *Resolver) download(ctx context.Context, artifactURL, path string) (err error) {
	body, err := r.get(ctx, artifactURL)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.part")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp.Name()))
		}
	}()

	_, err = io.Copy(tmp, body)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return fmt.Errorf("downloading %s: %w", artifactURL, err)
	}

	return os.Rename(tmp.Name(), path)
}

func (r *Resolver) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %s", target, resp.Status)
	}
	return resp.Body, nil
}
