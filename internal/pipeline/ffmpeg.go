package pipeline

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facemark/internal/framestore"
	"github.com/andresmejia3/facemark/internal/utils"
)

// VideoTools decodes a video into a frame store and encodes it back.
type VideoTools interface {
	ExtractFrames(ctx context.Context, video string, frames *framestore.Store) error
	Assemble(ctx context.Context, frames *framestore.Store, fps float64, source, out string) error
	FPS(ctx context.Context, video string) (float64, error)
}

// FFmpeg implements VideoTools with the ffmpeg and ffprobe binaries.
type FFmpeg struct{}

func (FFmpeg) ExtractFrames(ctx context.Context, video string, frames *framestore.Store) error {
	if _, err := utils.LookupTool("ffmpeg"); err != nil {
		return err
	}
	cmd := utils.NewFFmpegExtractCmd(ctx, video, frames.Path(framestore.Pattern))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("frame extraction failed: %w", err)
	}
	return nil
}

func (FFmpeg) Assemble(ctx context.Context, frames *framestore.Store, fps float64, source, out string) error {
	if _, err := utils.LookupTool("ffmpeg"); err != nil {
		return err
	}
	cmd := utils.NewFFmpegAssembleCmd(ctx, frames.Path(framestore.Pattern), fps, source, out)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("reassembly failed: %w", err)
	}
	return nil
}

func (FFmpeg) FPS(ctx context.Context, video string) (float64, error) {
	return utils.GetVideoFPS(ctx, video)
}
