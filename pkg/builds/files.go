package builds

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrBuildNotFound is returned when no archive exists for a build hash.
	ErrBuildNotFound = errors.New("build not found")
	// ErrFileNotFound is returned when a build archive lacks a requested file.
	ErrFileNotFound = errors.New("build file not found")
	// ErrNoStableBuild is returned when the upstream index could not be
	// resolved to a downloadable build.
	ErrNoStableBuild = errors.New("no stable build found")
)

// File names a runtime file served straight out of a build archive.
type File int

const (
	MonoJS File = iota
	MonoWasm
)

// EntryPath returns the path of f inside a build archive.
func (f File) EntryPath() string {
	switch f {
	case MonoJS:
		return "builds/release/mono.js"
	case MonoWasm:
		return "builds/release/mono.wasm"
	}
	panic(fmt.Sprintf("builds: unknown file kind %d", int(f)))
}

// ContentType returns the media type f is served with.
func (f File) ContentType() string {
	switch f {
	case MonoJS:
		return "application/javascript"
	case MonoWasm:
		return "application/wasm"
	}
	panic(fmt.Sprintf("builds: unknown file kind %d", int(f)))
}

func (f File) String() string {
	switch f {
	case MonoJS:
		return "mono.js"
	case MonoWasm:
		return "mono.wasm"
	}
	return fmt.Sprintf("File(%d)", int(f))
}

const namePrefix = "mono-wasm-"

// Archive and SDK directory names share a prefix; the archive pattern is
// anchored on the extension so an extracted directory is never listed as a
// build of its own.
var archivePattern = regexp.MustCompile(`^mono-wasm-(\w+)\.zip$`)

// ArchiveName returns the file name of the archive for hash.
func ArchiveName(hash string) string {
	return namePrefix + hash + ".zip"
}

// DirName returns the directory name an archive is provisioned into.
func DirName(hash string) string {
	return namePrefix + hash
}

// ParseArchiveName extracts the build hash from an archive file name.
func ParseArchiveName(name string) (string, bool) {
	m := archivePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Build describes a downloaded runtime SDK.
type Build struct {
	Hash        string    `json:"hash"`
	ArchivePath string    `json:"archive_path"`
	SDKDir      string    `json:"sdk_dir"`
	Provisioned bool      `json:"provisioned"`
	ModTime     time.Time `json:"mod_time"`
}

// ProvisionError reports a failed archive extraction.
type ProvisionError struct {
	BuildHash string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision build %s: %v", e.BuildHash, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
