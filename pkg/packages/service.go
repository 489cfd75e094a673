package packages

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/cas"
	"github.com/3FT-io/sidecar/pkg/flight"
)

// BuildChecker reports whether a build archive is available.
type BuildChecker interface {
	HasBuild(ctx context.Context, hash string) (bool, error)
}

// Service produces packages on demand. Requests for the same package
// share one compile, and every compile goes through one gate.
type Service struct {
	store    *Store
	compiler Compiler
	builds   BuildChecker
	gate     *Gate
	flights  flight.Group
	compiles atomic.Int64
	logger   *zap.Logger
}

// NewService creates a package service. gate is shared by every service
// in the process.
func NewService(store *Store, compiler Compiler, checker BuildChecker, gate *Gate, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		compiler: compiler,
		builds:   checker,
		gate:     gate,
		logger:   logger.With(zap.String("component", "package-service")),
	}
}

// Store returns the underlying package store.
func (s *Service) Store() *Store {
	return s.store
}

// Compiles returns how many compiles this service has started.
func (s *Service) Compiles() int64 {
	return s.compiles.Load()
}

// Queue reports how many compiles wait on the gate and whether one runs.
func (s *Service) Queue() (waiting int, busy bool) {
	return s.gate.Waiting(), s.gate.Busy()
}

// PackageHash returns the hash of the package of asm for buildHash.
func PackageHash(asm *assembly.Assembly, buildHash string) string {
	return cas.PackageHash(asm.Identity(), buildHash)
}

// Ensure returns the hash of the package of asm for buildHash, compiling
// it first if it does not exist yet. A failed compile is a *CompileError.
func (s *Service) Ensure(ctx context.Context, asm *assembly.Assembly, buildHash string) (string, error) {
	hash := PackageHash(asm, buildHash)

	ok, err := s.store.HasPackage(ctx, hash)
	if err != nil {
		return "", err
	}
	if ok {
		return hash, nil
	}

	ok, err = s.builds.HasBuild(ctx, buildHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", builds.ErrBuildNotFound
	}

	_, shared, err := s.flights.Do(ctx, hash, func(ctx context.Context) (string, error) {
		return hash, s.gate.Do(ctx, func(ctx context.Context) error {
			return s.compile(ctx, asm, buildHash, hash)
		})
	})
	if err != nil {
		return "", err
	}

	if shared {
		s.logger.Debug("Joined in-flight compile", zap.String("package", hash))
	}
	return hash, nil
}

func (s *Service) compile(ctx context.Context, asm *assembly.Assembly, buildHash, hash string) error {
	// A compile queued behind another for the same hash finds it done.
	ok, err := s.store.HasPackage(ctx, hash)
	if err != nil || ok {
		return err
	}

	s.compiles.Add(1)
	result, err := s.compiler.Compile(ctx, asm, buildHash)
	if err != nil {
		s.logger.Error("Package compile error",
			zap.String("package", hash),
			zap.String("assembly", asm.Name),
			zap.Error(err),
		)
		return err
	}
	if result == nil {
		return fmt.Errorf("compiling %s: compiler returned no result", hash)
	}
	if !result.Successful {
		return &CompileError{PackageHash: hash, Result: result}
	}

	ok, err = s.store.HasPackage(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		result.Errors += "compiled package is missing from the package store\n"
		return &CompileError{PackageHash: hash, Result: result}
	}
	return nil
}
