package packages

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrPackageNotFound is returned when no compiled package exists for a hash.
	ErrPackageNotFound = errors.New("package not found")
	// ErrFileNotFound is returned when a package lacks a requested file.
	ErrFileNotFound = errors.New("package file not found")
)

// File names a fixed file of a compiled package.
type File int

const (
	RuntimeJS File = iota
	MonoConfig
)

// Name returns the file name of f inside a package directory.
func (f File) Name() string {
	switch f {
	case RuntimeJS:
		return "runtime.js"
	case MonoConfig:
		return "mono-config.js"
	}
	panic(fmt.Sprintf("packages: unknown file kind %d", int(f)))
}

// ContentType returns the media type f is served with.
func (f File) ContentType() string {
	switch f {
	case RuntimeJS, MonoConfig:
		return "application/javascript"
	}
	panic(fmt.Sprintf("packages: unknown file kind %d", int(f)))
}

func (f File) String() string {
	switch f {
	case RuntimeJS, MonoConfig:
		return f.Name()
	}
	return fmt.Sprintf("File(%d)", int(f))
}

// ManagedDir is the package subdirectory holding managed libraries.
const ManagedDir = "managed"

const namePrefix = "mono-wasm-"

var dirPattern = regexp.MustCompile(`^mono-wasm-(\w+)$`)

// DirName returns the directory name of the package for hash.
func DirName(hash string) string {
	return namePrefix + hash
}

// ParseDirName extracts the package hash from a package directory name.
func ParseDirName(name string) (string, bool) {
	m := dirPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Package describes a compiled package on disk.
type Package struct {
	Hash    string    `json:"hash"`
	Dir     string    `json:"dir"`
	Files   []string  `json:"files"`
	ModTime time.Time `json:"mod_time"`
}

// Result is the outcome of one packager run. Successful is the only
// signal of success; Errors may be non-empty either way.
type Result struct {
	Successful bool   `json:"successful"`
	Output     string `json:"output"`
	Errors     string `json:"errors"`
}

// CompileError reports a packager run that did not produce a package.
type CompileError struct {
	PackageHash string
	Result      *Result
}

func (e *CompileError) Error() string {
	msg := "compilation failed"
	if e.Result != nil {
		if first, _, _ := strings.Cut(strings.TrimSpace(e.Result.Errors), "\n"); first != "" {
			msg = first
		}
	}
	return fmt.Sprintf("package %s: %s", e.PackageHash, msg)
}
