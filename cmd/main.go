package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/api"
	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/builds"
	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/packages"
	"github.com/3FT-io/sidecar/pkg/proxy"
)

var rootCmd = &cobra.Command{
	Use:   "sidecar",
	Short: "Serve mono-wasm runtimes, compiled packages and interop proxies",
	Long: `sidecar resolves mono-wasm runtime builds, compiles managed assemblies into
packages on demand and serves them, together with generated TypeScript and
JavaScript proxies, over HTTP.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the latest stable build and print its hash",
	RunE:  runFetch,
}

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List available builds, newest first",
	RunE:  runBuilds,
}

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "List compiled packages, newest first",
	RunE:  runPackages,
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Print the generated proxy of a package",
	RunE:  runProxy,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile a package if needed and print its hash",
	RunE:  runCompile,
}

var (
	configPath    string
	assemblyFiles []string
	packageName   string
	language      string
	version       string
	outDir        string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringArrayVarP(&assemblyFiles, "assembly", "a", nil, "Assembly description to register (repeatable)")

	proxyCmd.Flags().StringVarP(&packageName, "package", "p", "", "Package assembly name")
	proxyCmd.Flags().StringVarP(&language, "lang", "l", "ts", "Proxy language: ts or js")
	proxyCmd.Flags().StringVarP(&outDir, "out", "o", "", "Write sidecar.<ext> into this directory instead of stdout")
	proxyCmd.MarkFlagRequired("package")

	compileCmd.Flags().StringVarP(&packageName, "package", "p", "", "Package assembly name")
	compileCmd.Flags().StringVarP(&version, "version", "v", "", "Build hash; defaults to the latest stable build")
	compileCmd.MarkFlagRequired("package")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(buildsCmd)
	rootCmd.AddCommand(packagesCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(compileCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds every wired component.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *assembly.Registry
	resolver  *builds.Resolver
	builds    *builds.Service
	packages  *packages.Service
	generator *proxy.Generator
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	seed, err := loadAssemblies(cfg.Manifest, assemblyFiles)
	if err != nil {
		return nil, err
	}
	registry, err := assembly.NewRegistry(logger, seed...)
	if err != nil {
		return nil, err
	}

	buildStore, err := builds.NewStore(cfg.BuildLocation, logger)
	if err != nil {
		return nil, err
	}
	packageStore, err := packages.NewStore(cfg.PackageLocation, logger)
	if err != nil {
		return nil, err
	}

	resolver := builds.NewResolver(cfg, buildStore, logger)
	buildService := builds.NewService(buildStore, resolver, cfg, logger)
	compiler := packages.NewProcessCompiler(cfg, buildService, packageStore, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		resolver:  resolver,
		builds:    buildService,
		packages:  packages.NewService(packageStore, compiler, buildStore, packages.NewGate(), logger),
		generator: proxy.NewGenerator(registry, logger),
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func loadAssemblies(manifest string, files []string) ([]*assembly.Assembly, error) {
	var out []*assembly.Assembly
	if manifest != "" {
		loaded, err := assembly.LoadManifest(manifest)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	for _, file := range files {
		a, err := assembly.LoadAssembly(file)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	server, err := api.NewAPI(a.cfg, a.builds, a.packages, a.registry, a.generator, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("Registered assemblies", zap.Int("count", len(a.registry.List())))

	// Start API server
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case <-cmd.Context().Done():
		a.logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		a.logger.Error("Error shutting down API server", zap.Error(err))
		return err
	}
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	hash, err := a.resolver.FetchLatestStableBuild(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runBuilds(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	hashes, err := a.builds.AvailableBuilds(cmd.Context())
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		fmt.Fprintln(cmd.OutOrStdout(), hash)
	}
	return nil
}

func runPackages(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	pkgs, err := a.packages.Store().Packages(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d files\n", p.Hash, p.ModTime.Format(time.RFC3339), len(p.Files))
	}
	return nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	lang, err := proxy.ParseLanguage(language)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	out, err := a.generator.Generate(cmd.Context(), packageName, lang)
	if err != nil {
		return fmt.Errorf("package %s: %w", packageName, err)
	}
	if outDir == "" {
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}

	path := filepath.Join(outDir, "sidecar"+lang.Extension())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	asm, err := a.registry.FindByName(packageName)
	if err != nil {
		return fmt.Errorf("package %s: %w", packageName, err)
	}

	buildHash, err := a.builds.BuildByVersion(cmd.Context(), version)
	if err != nil {
		return err
	}

	hash, err := a.packages.Ensure(cmd.Context(), asm, buildHash)
	if err != nil {
		var compileErr *packages.CompileError
		if errors.As(err, &compileErr) && compileErr.Result != nil {
			fmt.Fprint(cmd.ErrOrStderr(), compileErr.Result.Errors)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
