package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrtLibraryName(t *testing.T) {
	assert.Equal(t, "libonnxruntime.so", ortLibraryName("linux"))
	assert.Equal(t, "libonnxruntime.dylib", ortLibraryName("darwin"))
	assert.Equal(t, "onnxruntime.dll", ortLibraryName("windows"))
}

func TestResolveORTLibrary_Explicit(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "custom.so")
	require.NoError(t, os.WriteFile(lib, []byte("elf"), 0o755))

	got, err := resolveORTLibrary(lib, nil)
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = resolveORTLibrary(filepath.Join(dir, "missing.so"), nil)
	assert.ErrorContains(t, err, "not found")
}

func TestResolveORTLibrary_Search(t *testing.T) {
	empty := t.TempDir()
	withLib := t.TempDir()
	name := ortLibraryName(runtime.GOOS)
	require.NoError(t, os.MkdirAll(filepath.Join(withLib, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(withLib, "lib", name), []byte("elf"), 0o755))

	got, err := resolveORTLibrary("", []string{"", empty, withLib})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(withLib, "lib", name), got)
}

func TestResolveORTLibrary_FallsBackToLoader(t *testing.T) {
	got, err := resolveORTLibrary("", []string{t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, ortLibraryName(runtime.GOOS), got)
}
