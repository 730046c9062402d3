package compiler

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed rust-toolchain.toml
var embeddedToolchain []byte

// Toolchain locates the programs a compile needs
type Toolchain struct {
	// cargo executable, looked up on PATH when not absolute
	Cargo string

	// Path to the rustc_codegen_spirv dynamic library
	CodegenBackend string

	// rustup channel exported as RUSTUP_TOOLCHAIN
	Channel string

	// cargo --target-dir, empty for cargo's default
	TargetDir string
}

// DefaultToolchain returns the toolchain for the current platform
func DefaultToolchain() Toolchain {
	return Toolchain{
		Cargo:          "cargo",
		CodegenBackend: filepath.Join(defaultCodegenDir(), CodegenBackendFile()),
		Channel:        DefaultChannel(),
	}
}

// DefaultChannel returns the channel pinned by the embedded rust-toolchain.toml
func DefaultChannel() string {
	channel, err := parseChannel(embeddedToolchain)
	if err != nil {
		panic("compiler: embedded rust-toolchain.toml: " + err.Error())
	}

	return channel
}

func parseChannel(data []byte) (string, error) {
	var file struct {
		Toolchain struct {
			Channel string `toml:"channel"`
		} `toml:"toolchain"`
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		return "", err
	}

	if file.Toolchain.Channel == "" {
		return "", fmt.Errorf("toolchain.channel not set")
	}

	return file.Toolchain.Channel, nil
}

// CodegenBackendFile is the platform file name of the codegen backend library
func CodegenBackendFile() string {
	switch runtime.GOOS {
	case "windows":
		return "rustc_codegen_spirv.dll"
	case "darwin":
		return "librustc_codegen_spirv.dylib"
	default:
		return "librustc_codegen_spirv.so"
	}
}

func defaultCodegenDir() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Windows\System32`
	case "darwin":
		return "/Applications/rust-gpu-compiler"
	default:
		return "/usr/lib"
	}
}

// LibraryPathVar is the environment variable the platform searches for
// dynamic libraries
func LibraryPathVar() string {
	switch runtime.GOOS {
	case "windows":
		return "PATH"
	case "darwin":
		return "DYLD_FALLBACK_LIBRARY_PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

// Check verifies that cargo and the codegen backend exist
func (t Toolchain) Check() error {
	if _, err := exec.LookPath(t.Cargo); err != nil {
		return newError(ToolchainMissing, "cargo not found (%s): %w", t.Cargo, err)
	}

	info, err := os.Stat(t.CodegenBackend)
	if err != nil {
		return newError(ToolchainMissing, "codegen backend not found: %w", err)
	}

	if info.IsDir() {
		return newError(ToolchainMissing, "codegen backend %s is a directory", t.CodegenBackend)
	}

	return nil
}

// Env returns base with RUSTUP_TOOLCHAIN set and the codegen backend's
// directory appended to the library search path
func (t Toolchain) Env(base []string) []string {
	libVar := LibraryPathVar()
	dir := filepath.Dir(t.CodegenBackend)

	env := make([]string, 0, len(base)+2)
	libPath := ""

	for _, kv := range base {
		key, value, _ := strings.Cut(kv, "=")

		switch {
		case key == "RUSTUP_TOOLCHAIN" && t.Channel != "":
			continue
		case envKeyEqual(key, libVar):
			libPath = value
			continue
		}

		env = append(env, kv)
	}

	if t.Channel != "" {
		env = append(env, "RUSTUP_TOOLCHAIN="+t.Channel)
	}

	if libPath == "" {
		libPath = dir
	} else if !containsPath(libPath, dir) {
		libPath += string(os.PathListSeparator) + dir
	}

	return append(env, libVar+"="+libPath)
}

func envKeyEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}

	return a == b
}

func containsPath(list, dir string) bool {
	for _, p := range filepath.SplitList(list) {
		if filepath.Clean(p) == filepath.Clean(dir) {
			return true
		}
	}

	return false
}
