package packages_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3FT-io/sidecar/pkg/assembly"
	"github.com/3FT-io/sidecar/pkg/cas"
	"github.com/3FT-io/sidecar/pkg/config"
	"github.com/3FT-io/sidecar/pkg/packages"
	"github.com/3FT-io/sidecar/pkg/testutil"
)

const goodPackager = `
for arg in "$@"; do
  case "$arg" in
    --out=*) out="${arg#--out=}" ;;
  esac
done
echo "packaging"
mkdir -p "$out/managed"
echo "var runtime = 1;" > "$out/runtime.js"
echo "var config = {};" > "$out/mono-config.js"
echo "$@" > "$out/args.txt"
`

const failingPackager = `
echo "error: cannot resolve MyLib.Missing" >&2
exit 3
`

const incompletePackager = `
echo "done"
`

type fakeProvisioner struct {
	sdkDir string
	err    error
	calls  int
}

func (p *fakeProvisioner) Provision(ctx context.Context, buildHash string) (string, error) {
	p.calls++
	return p.sdkDir, p.err
}

type compilerFixture struct {
	compiler    *packages.ProcessCompiler
	store       *packages.Store
	provisioner *fakeProvisioner
	asm         *assembly.Assembly
	sdkDir      string
	cfg         *config.Config
}

func newCompilerFixture(t *testing.T, script string) *compilerFixture {
	if runtime.GOOS == "windows" {
		t.Skip("packager fakes are shell scripts")
	}

	root := t.TempDir()
	sdkDir := filepath.Join(root, "sdk")
	testutil.WriteScript(t, sdkDir, "packager.exe", script)
	location := testutil.CreateTestFile(t, root, "app/MyLib.dll", "dll")

	store, err := packages.NewStore(filepath.Join(root, "output"), zap.NewNop())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	provisioner := &fakeProvisioner{sdkDir: sdkDir}

	return &compilerFixture{
		compiler:    packages.NewProcessCompiler(cfg, provisioner, store, zap.NewNop()),
		store:       store,
		provisioner: provisioner,
		asm:         &assembly.Assembly{Name: "MyLib", Location: location},
		sdkDir:      sdkDir,
		cfg:         cfg,
	}
}

func TestProcessCompilerSuccess(t *testing.T) {
	ctx := context.Background()
	f := newCompilerFixture(t, goodPackager)

	result, err := f.compiler.Compile(ctx, f.asm, "abc12345678")
	require.NoError(t, err)
	assert.True(t, result.Successful)
	assert.Contains(t, result.Output, "packaging")
	assert.Equal(t, 1, f.provisioner.calls)

	hash := cas.PackageHash(f.asm.Identity(), "abc12345678")
	ok, err := f.store.HasPackage(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := f.store.LoadPackageFile(ctx, hash, packages.RuntimeJS)
	require.NoError(t, err)
	assert.Equal(t, "var runtime = 1;\n", string(data))

	args, err := os.ReadFile(filepath.Join(f.store.PackageDir(hash), "args.txt"))
	require.NoError(t, err)
	fields := strings.Fields(string(args))
	require.Len(t, fields, 5)
	assert.Equal(t, "--search-path="+filepath.Dir(f.asm.Location), fields[0])
	assert.Equal(t, "--mono-sdkdir="+f.sdkDir, fields[1])
	assert.Equal(t, "--copy=always", fields[2])
	assert.True(t, strings.HasPrefix(fields[3], "--out="))
	assert.Equal(t, f.asm.Location, fields[4])

	// Only the published package remains.
	entries, err := os.ReadDir(f.store.BasePath())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessCompilerToolFailure(t *testing.T) {
	ctx := context.Background()
	f := newCompilerFixture(t, failingPackager)

	result, err := f.compiler.Compile(ctx, f.asm, "abc12345678")
	require.NoError(t, err)
	assert.False(t, result.Successful)
	assert.Contains(t, result.Errors, "cannot resolve MyLib.Missing")

	hashes, err := f.store.AvailablePackages(ctx)
	require.NoError(t, err)
	assert.Empty(t, hashes)

	entries, err := os.ReadDir(f.store.BasePath())
	require.NoError(t, err)
	assert.Empty(t, entries, "staging directory is removed")
}

func TestProcessCompilerIncompleteOutput(t *testing.T) {
	f := newCompilerFixture(t, incompletePackager)

	result, err := f.compiler.Compile(context.Background(), f.asm, "abc12345678")
	require.NoError(t, err)
	assert.False(t, result.Successful)
	assert.Contains(t, result.Errors, "runtime.js")
}

func TestProcessCompilerLaunchFailure(t *testing.T) {
	f := newCompilerFixture(t, goodPackager)
	require.NoError(t, os.Remove(filepath.Join(f.sdkDir, "packager.exe")))

	_, err := f.compiler.Compile(context.Background(), f.asm, "abc12345678")
	assert.Error(t, err)
}

func TestProcessCompilerLauncher(t *testing.T) {
	f := newCompilerFixture(t, goodPackager)
	require.NoError(t, os.Chmod(filepath.Join(f.sdkDir, "packager.exe"), 0644))

	f.cfg.PackagerLauncher = []string{"/bin/sh"}
	compiler := packages.NewProcessCompiler(f.cfg, f.provisioner, f.store, zap.NewNop())

	result, err := compiler.Compile(context.Background(), f.asm, "abc12345678")
	require.NoError(t, err)
	assert.True(t, result.Successful)
}

func TestProcessCompilerProvisionFailure(t *testing.T) {
	f := newCompilerFixture(t, goodPackager)
	boom := errors.New("corrupt archive")
	f.provisioner.err = boom

	_, err := f.compiler.Compile(context.Background(), f.asm, "abc12345678")
	assert.ErrorIs(t, err, boom)
}

func TestProcessCompilerTimeout(t *testing.T) {
	f := newCompilerFixture(t, "exec sleep 5\n")
	f.cfg.CompileTimeout = 50 * time.Millisecond
	compiler := packages.NewProcessCompiler(f.cfg, f.provisioner, f.store, zap.NewNop())

	_, err := compiler.Compile(context.Background(), f.asm, "abc12345678")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProcessCompilerNoLocation(t *testing.T) {
	f := newCompilerFixture(t, goodPackager)

	_, err := f.compiler.Compile(context.Background(), &assembly.Assembly{Name: "Ghost"}, "abc12345678")
	assert.Error(t, err)
	assert.Zero(t, f.provisioner.calls)
}
