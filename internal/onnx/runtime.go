// Package onnx wraps ONNX Runtime setup and the tensor layout shared by the
// detector and its tests.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "FRAMESCAN_ONNXRUNTIME_LIB"

var initMu sync.Mutex

// libraryName returns the shared library filename for the current OS.
func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// candidateLibraryPaths lists where the shared library is searched, in order.
func candidateLibraryPaths(useGPU bool) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}

	lib, err := libraryName()
	if err != nil {
		return paths
	}
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", lib))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", lib),
		filepath.Join("/usr/lib", lib),
		filepath.Join("/opt/onnxruntime/cpu/lib", lib),
	)
	if root, err := findProjectRoot(); err == nil {
		if useGPU {
			paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", lib))
		}
		paths = append(paths, filepath.Join(root, "onnxruntime", "lib", lib))
	}
	return paths
}

// findProjectRoot walks up from the working directory to the first go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// ResolveLibraryPath returns the first existing ONNX Runtime library path.
func ResolveLibraryPath(useGPU bool) (string, error) {
	candidates := candidateLibraryPaths(useGPU)
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (searched %v)", candidates)
}

// InitializeRuntime points onnxruntime_go at the shared library and
// initializes the environment once per process.
func InitializeRuntime(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	libPath, err := ResolveLibraryPath(useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(libPath)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}

// RuntimeInfo describes the initialized runtime for diagnostics.
type RuntimeInfo struct {
	LibraryPath string
	GPU         bool
}

// CheckRuntime initializes the runtime and reports what was loaded.
func CheckRuntime(useGPU bool) (RuntimeInfo, error) {
	libPath, err := ResolveLibraryPath(useGPU)
	if err != nil {
		return RuntimeInfo{}, err
	}
	if err := InitializeRuntime(useGPU); err != nil {
		return RuntimeInfo{LibraryPath: libPath, GPU: useGPU}, err
	}
	return RuntimeInfo{LibraryPath: libPath, GPU: useGPU}, nil
}
