package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// CreateTestFile creates a file with the given content, including any
// missing parent directories, and returns its path
func CreateTestFile(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

// CreateZip writes a zip archive holding entries (name to content) and
// returns its path. Entries are written in name order.
func CreateZip(t *testing.T, path string, entries map[string]string) string {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	f, err := os.Create(path)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	return path
}

// ZipBytes returns the bytes of a zip archive holding entries.
func ZipBytes(t *testing.T, entries map[string]string) []byte {
	path := CreateZip(t, filepath.Join(t.TempDir(), "archive.zip"), entries)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// WriteScript writes an executable shell script and returns its path.
func WriteScript(t *testing.T, dir, name, body string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755)
	require.NoError(t, err)
	return path
}

// MinimalWasm is a valid WebAssembly module exporting one function "run".
var MinimalWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: () -> ()
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export section: "run" func 0
	0x07, 0x07, 0x01, 0x03, 0x72, 0x75, 0x6e, 0x00, 0x00,
	// code section: empty body
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

// BuildArchive returns the entries of a build archive with a runtime.
func BuildArchive() map[string]string {
	return map[string]string{
		"builds/release/mono.js":   "var Module = {};",
		"builds/release/mono.wasm": string(MinimalWasm),
		"packager.exe":             "packager",
	}
}
