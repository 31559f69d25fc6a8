package inference

import (
	"os"
	"runtime"
)

// LibraryPathEnv names the environment variable that overrides the ONNX Runtime
// shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibraryPath returns the ONNX Runtime shared library to load for the current
// platform, preferring the LibraryPathEnv environment variable.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibraryPath() string {
	if path := os.Getenv(LibraryPathEnv); path != "" {
		return path
	}
	switch runtime.GOOS {
	case "windows":
		return "third_party/onnxruntime.dll"
	case "darwin":
		return "third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "third_party/onnxruntime_arm64.so"
	}
	return "third_party/onnxruntime.so"
}
