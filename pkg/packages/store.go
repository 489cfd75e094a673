package packages

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/zap"
)

// Store manages compiled package directories.
type Store struct {
	basePath string
	logger   *zap.Logger
}

// NewStore creates the package directory if needed.
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
		logger:   logger.With(zap.String("component", "package-store")),
	}, nil
}

// BasePath returns the absolute package directory.
func (s *Store) BasePath() string {
	return s.basePath
}

// PackageDir returns where the package for hash lives.
func (s *Store) PackageDir(hash string) string {
	return filepath.Join(s.basePath, DirName(hash))
}

// Packages lists every compiled package, newest first.
func (s *Store) Packages(ctx context.Context) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("reading package directory: %w", err)
	}

	pkgs := make([]Package, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		hash, ok := ParseDirName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		dir := s.PackageDir(hash)
		pkgs = append(pkgs, Package{
			Hash:    hash,
			Dir:     dir,
			Files:   listFiles(dir),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].ModTime.Equal(pkgs[j].ModTime) {
			return pkgs[i].Hash < pkgs[j].Hash
		}
		return pkgs[i].ModTime.After(pkgs[j].ModTime)
	})

	return pkgs, nil
}

// AvailablePackages returns the hashes of every compiled package, newest first.
func (s *Store) AvailablePackages(ctx context.Context) ([]string, error) {
	pkgs, err := s.Packages(ctx)
	if err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		hashes = append(hashes, p.Hash)
	}
	return hashes, nil
}

// HasPackage reports whether a compiled package exists for hash.
func (s *Store) HasPackage(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := ParseDirName(DirName(hash)); !ok {
		return false, nil
	}

	info, err := os.Stat(s.PackageDir(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// LoadPackageFile reads a fixed package file.
func (s *Store) LoadPackageFile(ctx context.Context, hash string, file File) ([]byte, error) {
	ok, err := s.HasPackage(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPackageNotFound
	}

	return readFile(filepath.Join(s.PackageDir(hash), file.Name()))
}

// LoadManagedLibrary reads a library from the package's managed directory.
// Only plain file names are accepted.
func (s *Store) LoadManagedLibrary(ctx context.Context, hash, fileName string) ([]byte, error) {
	ok, err := s.HasPackage(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("Package not found for managed library",
			zap.String("package", hash),
			zap.String("file", fileName),
		)
		return nil, ErrPackageNotFound
	}

	if !plainName(fileName) {
		return nil, ErrFileNotFound
	}

	path, err := securejoin.SecureJoin(filepath.Join(s.PackageDir(hash), ManagedDir), fileName)
	if err != nil {
		return nil, ErrFileNotFound
	}
	return readFile(path)
}

// StagingDir creates a hidden directory a package for hash can be built in.
func (s *Store) StagingDir(hash string) (string, error) {
	return os.MkdirTemp(s.basePath, "."+DirName(hash)+"-")
}

// Publish moves a completed staging directory into place as the package
// for hash. If the package already exists the staging directory is removed.
func (s *Store) Publish(staging, hash string) error {
	if err := os.Chmod(staging, 0755); err != nil {
		return err
	}

	target := s.PackageDir(hash)
	if err := os.Rename(staging, target); err != nil {
		if info, serr := os.Stat(target); serr == nil && info.IsDir() {
			return os.RemoveAll(staging)
		}
		return err
	}

	s.logger.Info("Package published", zap.String("package", hash), zap.String("dir", target))
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return data, nil
}

func plainName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func listFiles(dir string) []string {
	files := []string{}
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	sort.Strings(files)
	return files
}
