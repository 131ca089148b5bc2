package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ortLibraryName returns the ONNX Runtime shared library file name for goos.
func ortLibraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveORTLibrary locates the ONNX Runtime shared library. An explicit path
// must exist. Otherwise lib/<name> under each search dir is tried in order,
// and the bare name is returned for the dynamic loader to find.
func resolveORTLibrary(explicit string, searchDirs []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("onnxruntime library not found: %s", explicit)
		}
		return explicit, nil
	}

	name := ortLibraryName(runtime.GOOS)
	for _, dir := range searchDirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, "lib", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return name, nil
}

// librarySearchDirs returns the executable's directory and the working
// directory.
func librarySearchDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	return dirs
}
