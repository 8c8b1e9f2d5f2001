package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// ErrToolUnavailable means an external binary (ffmpeg, ffprobe, python3) is not on PATH.
var ErrToolUnavailable = errors.New("external tool unavailable")

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (ffmpeg / worker logs)
// This ensures we don't lose critical crash information if a subprocess dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Run executes the command and folds captured stderr into the returned error.
func (s *SafeCommand) Run() error {
	if err := s.Cmd.Run(); err != nil {
		if msg := strings.TrimSpace(s.Stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.Path, err, msg)
		}
		return fmt.Errorf("%s: %w", s.Path, err)
	}
	return nil
}

// LookupTool resolves an external binary, returning ErrToolUnavailable when it is missing.
func LookupTool(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, ErrToolUnavailable)
	}
	return path, nil
}

// ShowError is the unified error report for facemark commands.
// It prints a formatted error box and dumps subprocess logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEMARK ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nSUBPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine (Shared by run & verify) ---

// ffprobeOutput is the subset of `ffprobe -of json` we read.
type ffprobeOutput struct {
	Streams []struct {
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		RFrameRate    string `json:"r_frame_rate"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
	} `json:"streams"`
}

// GetVideoFPS reads the first video stream's frame rate.
func GetVideoFPS(ctx context.Context, path string) (float64, error) {
	if _, err := LookupTool("ffprobe"); err != nil {
		return 0, err
	}
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate", "-of", "json", path).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return 0, fmt.Errorf("no video stream in %s", path)
	}
	return ParseFrameRate(res.Streams[0].RFrameRate)
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25".
func ParseFrameRate(s string) (float64, error) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil {
			return 0, fmt.Errorf("invalid frame rate %q: %w", s, err)
		}
	}
	if n <= 0 || d <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", s)
	}
	return n / d, nil
}

// GetTotalFrames uses ffprobe to count frames for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	// 0. Check dependency
	if _, err := LookupTool("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	cmdFast := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := cmdFast.Output(); err == nil {
		var res ffprobeOutput
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)

	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// NewFFmpegExtractCmd decodes every frame of inputPath into numbered PNG files.
// PNG keeps frames lossless so watermark bits survive the round trip to disk.
func NewFFmpegExtractCmd(ctx context.Context, inputPath, pattern string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath, "-map", "0:v:0", "-fps_mode", "passthrough", "-start_number", "1", pattern)
}

// LosslessCodecArgs returns video encoder arguments that preserve RGB pixels
// exactly for the container implied by outputPath.
func LosslessCodecArgs(outputPath string) []string {
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".mp4", ".mov", ".m4v":
		return []string{"-c:v", "libx264rgb", "-qp", "0", "-pix_fmt", "rgb24"}
	default:
		return []string{"-c:v", "ffv1", "-pix_fmt", "bgr0"}
	}
}

// NewFFmpegAssembleCmd encodes the numbered frames back into a video at fps,
// copying any audio streams from sourcePath when it is set.
func NewFFmpegAssembleCmd(ctx context.Context, pattern string, fps float64, sourcePath, outputPath string) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64), "-start_number", "1", "-i", pattern}
	if sourcePath != "" {
		args = append(args, "-i", sourcePath, "-map", "0:v:0", "-map", "1:a?", "-c:a", "copy")
	}
	args = append(args, LosslessCodecArgs(outputPath)...)
	args = append(args, outputPath)
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// GenerateVideoID creates a deterministic hash for the video file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
