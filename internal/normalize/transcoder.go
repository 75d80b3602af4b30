package normalize

import (
	"context"
	"fmt"
	"time"

	"vidgen/internal/domain"
)

// Target is what a transcode must produce. Zero fields mean unchanged.
type Target struct {
	Width       int
	Height      int
	MaxDuration time.Duration
	MaxFileSize int64
	Format      string
	BitrateMbps float64
}

// Transcoder applies a deterministic correction to an artifact.
type Transcoder interface {
	Transcode(ctx context.Context, a domain.MediaArtifact, t Target) (domain.MediaArtifact, error)
}

// MetadataTranscoder rewrites the artifact's technical metadata as an encoder
// would report it. Bytes pass through untouched; FFmpegTranscoder uses it to
// plan the encode and for artifacts held only by URL.
type MetadataTranscoder struct{}

func (MetadataTranscoder) Transcode(ctx context.Context, a domain.MediaArtifact, t Target) (domain.MediaArtifact, error) {
	if err := ctx.Err(); err != nil {
		return a, err
	}
	out := a
	out.Corrections = append([]string(nil), a.Corrections...)
	if t.Width > 0 && t.Height > 0 && (a.Width != t.Width || a.Height != t.Height) {
		out.Width, out.Height = t.Width, t.Height
	}
	if t.MaxDuration > 0 && a.Duration > t.MaxDuration {
		out.Duration = t.MaxDuration
		out.FileSize = scaleSize(a.FileSize, t.MaxDuration, a.Duration)
	}
	if t.Format != "" && formatName(a.Format) != formatName(t.Format) {
		out.Format = "video/" + formatName(t.Format)
	}
	if t.MaxFileSize > 0 && out.FileSize > t.MaxFileSize {
		bitrate := t.BitrateMbps
		if bitrate <= 0 {
			bitrate = domain.DefaultBitrateMbps
		}
		size := domain.EstimateFileSize(out.Duration, bitrate)
		for size > t.MaxFileSize && bitrate > 0.5 {
			bitrate *= 0.8
			size = domain.EstimateFileSize(out.Duration, bitrate)
		}
		if size > t.MaxFileSize {
			return a, fmt.Errorf("re-encode cannot reach %d bytes", t.MaxFileSize)
		}
		out.FileSize = size
	}
	return out, nil
}

func scaleSize(size int64, to, from time.Duration) int64 {
	if from <= 0 || size <= 0 {
		return size
	}
	return int64(float64(size) * float64(to) / float64(from))
}
