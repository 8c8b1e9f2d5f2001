// Package metadata stores a FaceMap inside a video container as a
// format-level tag, and reads it back on a later load.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facemark/internal/facemap"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	// KeyCustom is used by containers that accept arbitrary tags.
	KeyCustom = "face_map"
	// KeyComment is the standard tag for containers that only keep known keys.
	KeyComment = "comment"
)

// ErrToolUnavailable is returned when ffmpeg or ffprobe cannot be found.
var ErrToolUnavailable = utils.ErrToolUnavailable

// TagKey picks the tag name the container at path can carry.
func TagKey(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mkv", ".webm", ".mka":
		return KeyCustom
	default:
		return KeyComment
	}
}

// Codec remuxes containers with ffmpeg and probes them with ffprobe.
type Codec struct {
	FFmpeg  string
	FFprobe string
}

// NewCodec uses the ffmpeg and ffprobe binaries found on PATH.
func NewCodec() *Codec {
	return &Codec{FFmpeg: "ffmpeg", FFprobe: "ffprobe"}
}

// Embed attaches fm to the container at path.
//
// Streams are copied, never re-encoded. The tagged copy is written next to
// path and renamed over it, so on any failure the original is left as it was.
func (c *Codec) Embed(ctx context.Context, path string, fm *facemap.FaceMap) error {
	if _, err := utils.LookupTool(c.FFmpeg); err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("metadata embed: %w", err)
	}

	value, err := fm.MarshalJSON()
	if err != nil {
		return fmt.Errorf("metadata embed: %w", err)
	}
	key := TagKey(path)

	// Keep the extension so ffmpeg picks the same muxer.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".facemark-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("metadata embed: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	cmd := utils.NewSafeCommand(ctx, c.FFmpeg, "-hide_banner", "-loglevel", "error", "-y",
		"-i", path, "-map", "0", "-c", "copy",
		"-metadata", key+"="+string(value), tmpPath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("metadata embed: remux failed: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("metadata embed: %w", err)
	}
	committed = true

	logrus.WithFields(logrus.Fields{
		"path":   path,
		"key":    key,
		"frames": fm.Len(),
		"bytes":  len(value),
	}).Info("Face map stored in container")
	return nil
}

// Extract reads a FaceMap previously stored by Embed.
//
// A container with no tag, or with a tag that is not a face map, reports
// ok == false and a nil error. Errors are reserved for probe failures.
func (c *Codec) Extract(ctx context.Context, path string) (*facemap.FaceMap, bool, error) {
	if _, err := utils.LookupTool(c.FFprobe); err != nil {
		return nil, false, err
	}
	cmd := utils.NewSafeCommand(ctx, c.FFprobe, "-v", "error",
		"-show_entries", "format_tags", "-of", "json", path)
	var out strings.Builder
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, false, fmt.Errorf("metadata extract: probe failed: %w", err)
	}

	fm, ok := ParseProbe([]byte(out.String()))
	logrus.WithFields(logrus.Fields{"path": path, "found": ok}).Debug("Container tags probed")
	return fm, ok, nil
}

type probeOutput struct {
	Format struct {
		Tags map[string]string `json:"tags"`
	} `json:"format"`
}

// ParseProbe finds a face map in `ffprobe -show_entries format_tags -of json`
// output. Tag names are matched case-insensitively, custom key first.
func ParseProbe(out []byte) (*facemap.FaceMap, bool) {
	var res probeOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, false
	}
	return FromTags(res.Format.Tags)
}

// FromTags looks up the face map among container tags. A map with no frames
// is treated as absent.
func FromTags(tags map[string]string) (*facemap.FaceMap, bool) {
	for _, want := range []string{KeyCustom, KeyComment} {
		for k, v := range tags {
			if !strings.EqualFold(k, want) {
				continue
			}
			fm, err := facemap.Parse([]byte(v))
			if err != nil {
				logrus.WithFields(logrus.Fields{"key": k, "error": err}).Debug("Ignoring tag that is not a face map")
				continue
			}
			if fm.Len() == 0 {
				logrus.WithFields(logrus.Fields{"key": k}).Debug("Ignoring face map without frames")
				continue
			}
			return fm, true
		}
	}
	return nil, false
}
