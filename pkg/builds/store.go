package builds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/flight"
)

const copyBufferSize = 32 * 1024

var hashPattern = regexp.MustCompile(`^\w+$`)

// ValidHash reports whether s can name a build or package.
func ValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

// Store manages downloaded build archives and their extracted SDKs.
type Store struct {
	basePath   string
	logger     *zap.Logger
	provisions flight.Group
}

// NewStore creates the build directory if needed.
func NewStore(basePath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	return &Store{
		basePath: abs,
		logger:   logger.With(zap.String("component", "build-store")),
	}, nil
}

// BasePath returns the absolute build directory.
func (s *Store) BasePath() string {
	return s.basePath
}

// ArchivePath returns where the archive for hash lives.
func (s *Store) ArchivePath(hash string) string {
	return filepath.Join(s.basePath, ArchiveName(hash))
}

// SDKDir returns where the archive for hash is extracted to.
func (s *Store) SDKDir(hash string) string {
	return filepath.Join(s.basePath, DirName(hash))
}

// Builds lists every archived build, newest first.
func (s *Store) Builds(ctx context.Context) ([]Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading build directory: %w", err)
	}

	builds := make([]Build, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		hash, ok := ParseArchiveName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		builds = append(builds, Build{
			Hash:        hash,
			ArchivePath: s.ArchivePath(hash),
			SDKDir:      s.SDKDir(hash),
			Provisioned: isDir(s.SDKDir(hash)),
			ModTime:     info.ModTime(),
		})
	}

	sort.SliceStable(builds, func(i, j int) bool {
		if builds[i].ModTime.Equal(builds[j].ModTime) {
			return builds[i].Hash < builds[j].Hash
		}
		return builds[i].ModTime.After(builds[j].ModTime)
	})

	return builds, nil
}

// AvailableBuilds returns the hashes of every archived build, newest first.
func (s *Store) AvailableBuilds(ctx context.Context) ([]string, error) {
	builds, err := s.Builds(ctx)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(builds))
	for _, b := range builds {
		hashes = append(hashes, b.Hash)
	}
	return hashes, nil
}

// HasBuild reports whether an archive exists for hash.
func (s *Store) HasBuild(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !hashPattern.MatchString(hash) {
		return false, nil
	}

	info, err := os.Stat(s.ArchivePath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// LoadBuildFile reads one runtime file out of the archive for hash.
func (s *Store) LoadBuildFile(ctx context.Context, hash string, file File) ([]byte, error) {
	ok, err := s.HasBuild(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("Build archive not found", zap.String("build", hash))
		return nil, ErrBuildNotFound
	}

	r, err := zip.OpenReader(s.ArchivePath(hash))
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", ArchiveName(hash), err)
	}
	defer r.Close()

	entryPath := file.EntryPath()
	for _, f := range r.File {
		if f.Name != entryPath {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", entryPath, err)
		}
		defer rc.Close()

		return readAll(ctx, rc)
	}

	return nil, ErrFileNotFound
}

// Provision extracts the archive for hash into its SDK directory and
// returns that directory. An already extracted build is left untouched.
func (s *Store) Provision(ctx context.Context, hash string) (string, error) {
	sdkDir := s.SDKDir(hash)
	if isDir(sdkDir) {
		s.logger.Debug("Build already provisioned", zap.String("build", hash))
		return sdkDir, nil
	}

	ok, err := s.HasBuild(ctx, hash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrBuildNotFound
	}

	_, _, err = s.provisions.Do(ctx, hash, func(ctx context.Context) (string, error) {
		if isDir(sdkDir) {
			return sdkDir, nil
		}
		s.logger.Info("Provisioning build", zap.String("build", hash))
		if err := s.extract(ctx, hash, sdkDir); err != nil {
			return "", err
		}
		s.logger.Info("SDK extracted", zap.String("build", hash), zap.String("dir", sdkDir))
		return sdkDir, nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		s.logger.Error("Failed to provision build", zap.String("build", hash), zap.Error(err))
		return "", &ProvisionError{BuildHash: hash, Err: err}
	}

	return sdkDir, nil
}

// extract unpacks into a hidden staging directory which is renamed into
// place once complete, so a partially extracted SDK is never visible.
func (s *Store) extract(ctx context.Context, hash, sdkDir string) (err error) {
	staging, err := os.MkdirTemp(s.basePath, "."+DirName(hash)+"-")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.RemoveAll(staging))
		}
	}()

	r, err := zip.OpenReader(s.ArchivePath(hash))
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractEntry(ctx, staging, f); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}

	if err := os.Chmod(staging, 0755); err != nil {
		return err
	}

	if err := os.Rename(staging, sdkDir); err != nil {
		if isDir(sdkDir) {
			// Another process provisioned the same build first.
			return os.RemoveAll(staging)
		}
		return err
	}
	return nil
}

func extractEntry(ctx context.Context, root string, f *zip.File) error {
	target, err := securejoin.SecureJoin(root, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	_, err = copyContext(ctx, out, rc)
	return multierr.Append(err, out.Close())
}

// copyContext copies src to dst, checking ctx between chunks.
func copyContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := copyContext(ctx, &buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
