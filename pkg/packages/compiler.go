package packages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/cas"
	"github.com/3FT-io/sidecar/pkg/config"
)

// waitDelay bounds how long output is drained after the packager is killed.
const waitDelay = 2 * time.Second

// Compiler turns an assembly into a package for one build.
type Compiler interface {
	Compile(ctx context.Context, asm *assembly.Assembly, buildHash string) (*Result, error)
}

// Provisioner extracts a build's SDK and returns its directory.
type Provisioner interface {
	Provision(ctx context.Context, buildHash string) (string, error)
}

// ProcessCompiler runs the SDK's packager as an external process.
type ProcessCompiler struct {
	provisioner Provisioner
	store       *Store
	packager    string
	launcher    []string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewProcessCompiler creates a compiler publishing into store.
func NewProcessCompiler(cfg *config.Config, provisioner Provisioner, store *Store, logger *zap.Logger) *ProcessCompiler {
	return &ProcessCompiler{
		provisioner: provisioner,
		store:       store,
		packager:    cfg.Packager,
		launcher:    cfg.PackagerLauncher,
		timeout:     cfg.CompileTimeout,
		logger:      logger.With(zap.String("component", "package-compiler")),
	}
}

// Compile provisions the build and runs the packager into a staging
// directory, which is published only when the packager exits cleanly and
// produced the expected files. A packager that cannot be started is an
// error; one that fails is reported through Result.
func (c *ProcessCompiler) Compile(ctx context.Context, asm *assembly.Assembly, buildHash string) (result *Result, err error) {
	if asm.Location == "" {
		return nil, fmt.Errorf("assembly %s has no location", asm.Name)
	}
	packageHash := cas.PackageHash(asm.Identity(), buildHash)

	sdkDir, err := c.provisioner.Provision(ctx, buildHash)
	if err != nil {
		return nil, err
	}

	staging, err := c.store.StagingDir(packageHash)
	if err != nil {
		return nil, err
	}
	published := false
	defer func() {
		if !published {
			err = multierr.Append(err, os.RemoveAll(staging))
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	name, args := c.command(sdkDir, staging, asm.Location)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = sdkDir
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := c.logger.With(zap.String("package", packageHash), zap.String("build", buildHash))
	log.Info("Compiling package",
		zap.String("assembly", asm.Name),
		zap.String("sdk_dir", sdkDir),
		zap.String("command", name+" "+strings.Join(args, " ")),
	)

	start := time.Now()
	runErr := cmd.Run()
	result = &Result{Output: stdout.String(), Errors: stderr.String()}

	if result.Output != "" {
		log.Debug("Packager output", zap.String("stdout", result.Output))
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("compiling %s: %w", packageHash, ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("starting packager: %w", runErr)
		}
		log.Warn("Packager failed",
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.String("stderr", result.Errors),
		)
		return result, nil
	}

	if missing := missingFiles(staging); len(missing) > 0 {
		result.Errors += fmt.Sprintf("packager produced no %s\n", strings.Join(missing, ", "))
		log.Warn("Packager output incomplete", zap.Strings("missing", missing))
		return result, nil
	}
	if result.Errors != "" {
		log.Warn("Packager reported errors", zap.String("stderr", result.Errors))
	}

	if err := c.store.Publish(staging, packageHash); err != nil {
		return nil, err
	}
	published = true

	result.Successful = true
	log.Info("Package compiled", zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (c *ProcessCompiler) command(sdkDir, outDir, location string) (string, []string) {
	packager := c.packager
	if !filepath.IsAbs(packager) {
		packager = filepath.Join(sdkDir, packager)
	}

	args := []string{
		"--search-path=" + filepath.Dir(location),
		"--mono-sdkdir=" + sdkDir,
		"--copy=always",
		"--out=" + outDir,
		location,
	}

	if len(c.launcher) == 0 {
		return packager, args
	}
	full := append(append(append([]string{}, c.launcher[1:]...), packager), args...)
	return c.launcher[0], full
}

func missingFiles(dir string) []string {
	var missing []string
	for _, f := range []File{RuntimeJS, MonoConfig} {
		if _, err := os.Stat(filepath.Join(dir, f.Name())); err != nil {
			missing = append(missing, f.Name())
		}
	}
	return missing
}
