package tools

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// BinaryInfo contains information about a binary dependency
type BinaryInfo struct {
	Name         string
	Path         string
	Version      string
	IsAvailable  bool
	ErrorMessage string
}

// BinaryValidator checks the ffmpeg and ffprobe binaries the decoder runs
type BinaryValidator struct {
	ffmpegPath  string
	ffprobePath string
}

var versionRegex = regexp.MustCompile(`(?:ffmpeg|ffprobe) version ([^\s]+)`)

// NewBinaryValidator creates a new binary validator with the specified paths
func NewBinaryValidator(ffmpegPath, ffprobePath string) *BinaryValidator {
	return &BinaryValidator{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// ValidateAllBinaries validates all required binary dependencies and returns detailed information
func (bv *BinaryValidator) ValidateAllBinaries() (map[string]*BinaryInfo, error) {
	results := make(map[string]*BinaryInfo)
	var errors []string

	ffmpegInfo := bv.validate("FFmpeg", bv.ffmpegPath)
	results["ffmpeg"] = ffmpegInfo
	if !ffmpegInfo.IsAvailable {
		errors = append(errors, ffmpegInfo.ErrorMessage)
	}

	ffprobeInfo := bv.validate("FFprobe", bv.ffprobePath)
	results["ffprobe"] = ffprobeInfo
	if !ffprobeInfo.IsAvailable {
		errors = append(errors, ffprobeInfo.ErrorMessage)
	}

	if len(errors) > 0 {
		return results, fmt.Errorf("binary validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return results, nil
}

// ValidateFFmpeg validates FFmpeg binary availability and version compatibility
func (bv *BinaryValidator) ValidateFFmpeg() *BinaryInfo {
	return bv.validate("FFmpeg", bv.ffmpegPath)
}

// ValidateFFprobe validates FFprobe binary availability and version compatibility
func (bv *BinaryValidator) ValidateFFprobe() *BinaryInfo {
	return bv.validate("FFprobe", bv.ffprobePath)
}

func (bv *BinaryValidator) validate(name, path string) *BinaryInfo {
	info := &BinaryInfo{
		Name: name,
		Path: path,
	}

	fullPath, err := exec.LookPath(path)
	if err != nil {
		info.ErrorMessage = fmt.Sprintf("%s binary not found at path '%s': %v\n\n%s", name, path, err, installInstructions())
		return info
	}
	info.Path = fullPath

	version, err := getVersion(fullPath)
	if err != nil {
		info.ErrorMessage = fmt.Sprintf("%s found at '%s' but version check failed: %v\n%s",
			name, fullPath, err, installInstructions())
		return info
	}
	info.Version = version

	if err := ValidateVersion(version); err != nil {
		info.ErrorMessage = fmt.Sprintf("%s version compatibility issue: %v\n%s",
			name, err, installInstructions())
		return info
	}

	info.IsAvailable = true
	return info
}

// getVersion extracts version information from an ffmpeg suite binary
func getVersion(binaryPath string) (string, error) {
	cmd := exec.Command(binaryPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to execute %s -version: %w", binaryPath, err)
	}
	return ParseVersion(string(output))
}

// ParseVersion extracts the version from output like
// "ffmpeg version 4.4.2-0ubuntu0.22.04.1 Copyright ..."
func ParseVersion(output string) (string, error) {
	matches := versionRegex.FindStringSubmatch(output)
	if len(matches) < 2 {
		return "", fmt.Errorf("could not parse version from output")
	}
	return matches[1], nil
}

// ValidateVersion checks that version is 4.0 or newer. The showinfo
// filter output the decoder parses is stable from 4.x on.
func ValidateVersion(version string) error {
	// Extract major version number, handling versions like "n7.1.1" or "4.4.2-0ubuntu0.22.04.1"
	versionParts := strings.Split(version, ".")
	majorVersionStr := strings.Split(versionParts[0], "-")[0]
	majorVersionStr = strings.TrimPrefix(majorVersionStr, "n")

	majorVersion, err := strconv.Atoi(majorVersionStr)
	if err != nil {
		return fmt.Errorf("could not parse major version from: %s", version)
	}

	if majorVersion < 4 {
		return fmt.Errorf("version %s is too old (minimum required: 4.0)", version)
	}

	return nil
}

// installInstructions provides platform-specific installation instructions
// for the ffmpeg suite, which ships ffmpeg and ffprobe together
func installInstructions() string {
	return `FFmpeg Installation Instructions:

Ubuntu/Debian:
  sudo apt update && sudo apt install ffmpeg

CentOS/RHEL/Fedora:
  sudo dnf install ffmpeg  # or: sudo yum install ffmpeg

macOS (with Homebrew):
  brew install ffmpeg

Windows:
  1. Download from https://ffmpeg.org/download.html
  2. Extract to a folder (e.g., C:\ffmpeg)
  3. Add C:\ffmpeg\bin to your PATH environment variable

After installation, verify with: ffmpeg -version && ffprobe -version

If FFmpeg is installed in a custom location, update your configuration:
  ffmpeg:
    binary_path: "/path/to/your/ffmpeg"
    probe_path: "/path/to/your/ffprobe"`
}

// GetBinaryStatus returns a human-readable status summary of all binaries
func (bv *BinaryValidator) GetBinaryStatus() string {
	results, err := bv.ValidateAllBinaries()

	var status strings.Builder
	status.WriteString("Binary Dependency Status:\n")
	status.WriteString("========================\n\n")

	for _, name := range []string{"ffmpeg", "ffprobe"} {
		info := results[name]
		if info.IsAvailable {
			status.WriteString(fmt.Sprintf("OK  %s\n", info.Name))
			status.WriteString(fmt.Sprintf("    Path: %s\n", info.Path))
			status.WriteString(fmt.Sprintf("    Version: %s\n\n", info.Version))
		} else {
			status.WriteString(fmt.Sprintf("ERR %s: NOT AVAILABLE\n", info.Name))
			status.WriteString(fmt.Sprintf("    Expected path: %s\n\n", bv.getBinaryPath(name)))
		}
	}

	if err != nil {
		status.WriteString("Issues found:\n")
		status.WriteString(err.Error())
	} else {
		status.WriteString("All required binaries are available and compatible!")
	}

	return status.String()
}

// getBinaryPath returns the configured path for a binary by name
func (bv *BinaryValidator) getBinaryPath(name string) string {
	switch name {
	case "ffmpeg":
		return bv.ffmpegPath
	case "ffprobe":
		return bv.ffprobePath
	default:
		return "unknown"
	}
}

// QuickValidation performs a fast check without detailed version validation
// Useful for startup checks where speed is important
func (bv *BinaryValidator) QuickValidation() error {
	if _, err := exec.LookPath(bv.ffmpegPath); err != nil {
		return fmt.Errorf("FFmpeg not found at '%s': %w", bv.ffmpegPath, err)
	}
	if _, err := exec.LookPath(bv.ffprobePath); err != nil {
		return fmt.Errorf("FFprobe not found at '%s': %w", bv.ffprobePath, err)
	}
	return nil
}
