package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// Transcoder selection modes.
const (
	TranscoderAuto     = "auto"
	TranscoderFFmpeg   = "ffmpeg"
	TranscoderMetadata = "metadata"
)

// NoteDeferredEncode marks a URL-only artifact whose bytes were not re-encoded.
const NoteDeferredEncode = "encode deferred: artifact has no inline bytes"

// SelectTranscoder resolves a mode name to a Transcoder. auto uses ffmpeg when
// the binary resolves and falls back to MetadataTranscoder otherwise.
func SelectTranscoder(mode, ffmpegPath string, logger *infra.Logger) (Transcoder, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", TranscoderAuto:
		path, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return MetadataTranscoder{}, nil
		}
		return NewFFmpegTranscoder(path, logger), nil
	case TranscoderFFmpeg:
		path, err := exec.LookPath(ffmpegPath)
		if err != nil {
			return nil, fmt.Errorf("transcoder ffmpeg: %w", err)
		}
		return NewFFmpegTranscoder(path, logger), nil
	case TranscoderMetadata:
		return MetadataTranscoder{}, nil
	default:
		return nil, fmt.Errorf("unknown transcoder %q", mode)
	}
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for tests.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	return res, err
}

// EncodeError reports a failed ffmpeg run.
type EncodeError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *EncodeError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if len(stderr) > 300 {
		stderr = stderr[len(stderr)-300:]
	}
	if stderr == "" {
		return fmt.Sprintf("ffmpeg exit %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("ffmpeg exit %d: %s", e.ExitCode, stderr)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// FFmpegTranscoder scales, trims and re-encodes inline artifact bytes with
// ffmpeg. Artifacts that only carry a remote URL get their metadata corrected
// and a NoteDeferredEncode correction.
type FFmpegTranscoder struct {
	ffmpegPath string
	runner     commandRunner
	fallback   Transcoder
	logger     *infra.Logger
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
	readFile   func(name string) ([]byte, error)
}

// NewFFmpegTranscoder runs the binary at path.
func NewFFmpegTranscoder(path string, logger *infra.Logger) *FFmpegTranscoder {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &FFmpegTranscoder{
		ffmpegPath: path,
		runner:     execRunner{},
		fallback:   MetadataTranscoder{},
		logger:     logger,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
		readFile:   os.ReadFile,
	}
}

func (f *FFmpegTranscoder) Transcode(ctx context.Context, a domain.MediaArtifact, t Target) (domain.MediaArtifact, error) {
	// The metadata pass yields the target dimensions, duration and bitrate.
	planned, err := f.fallback.Transcode(ctx, a, t)
	if err != nil {
		return a, err
	}
	if len(a.Data) == 0 {
		planned.Corrections = append(planned.Corrections, NoteDeferredEncode)
		return planned, nil
	}

	dir, err := f.mkdirTemp("", "vidgen-encode-*")
	if err != nil {
		return a, fmt.Errorf("create encode workspace: %w", err)
	}
	defer func() { _ = f.removeAll(dir) }()

	container := formatName(planned.Format)
	in := filepath.Join(dir, "source."+formatName(a.Format))
	out := filepath.Join(dir, "encoded."+container)
	if err := f.writeFile(in, a.Data, 0o600); err != nil {
		return a, fmt.Errorf("write encode input: %w", err)
	}

	args := buildEncodeArgs(in, out, container, a, planned, t)
	res, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return a, ctx.Err()
		}
		return a, &EncodeError{ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	data, err := f.readFile(out)
	if err != nil {
		return a, fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if len(data) == 0 {
		return a, fmt.Errorf("ffmpeg produced an empty file")
	}
	if t.MaxFileSize > 0 && int64(len(data)) > t.MaxFileSize {
		return a, fmt.Errorf("encoded %d bytes, over %d", len(data), t.MaxFileSize)
	}

	planned.Data = data
	planned.FileSize = int64(len(data))
	f.logger.Debug().
		Str("provider", a.Provider).
		Int("width", planned.Width).
		Int("height", planned.Height).
		Int64("bytes", planned.FileSize).
		Msg("normalize: ffmpeg encode finished")
	return planned, nil
}

func buildEncodeArgs(in, out, container string, before, after domain.MediaArtifact, t Target) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}
	if after.Duration > 0 && after.Duration < before.Duration {
		args = append(args, "-t", strconv.FormatFloat(after.Duration.Seconds(), 'f', 3, 64))
	}
	if after.Width > 0 && after.Height > 0 {
		w, h := strconv.Itoa(after.Width), strconv.Itoa(after.Height)
		args = append(args, "-vf",
			"scale="+w+":"+h+":force_original_aspect_ratio=decrease,pad="+w+":"+h+":(ow-iw)/2:(oh-ih)/2,setsar=1")
	}
	video, audio := "libx264", "aac"
	if container == "webm" {
		video, audio = "libvpx-vp9", "libopus"
	}
	args = append(args, "-c:v", video, "-pix_fmt", "yuv420p", "-c:a", audio)
	if kbps := encodeKbps(after, t); kbps > 0 {
		rate := strconv.Itoa(kbps) + "k"
		args = append(args, "-b:v", rate, "-maxrate", rate, "-bufsize", strconv.Itoa(2*kbps)+"k")
	}
	if container == "mp4" || container == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, out)
}

// encodeKbps derives the video bitrate that fits the planned file size. Zero
// leaves the encoder's default rate control.
func encodeKbps(after domain.MediaArtifact, t Target) int {
	if t.MaxFileSize <= 0 || after.FileSize <= 0 || after.Duration <= 0 {
		return 0
	}
	// Inverse of domain.EstimateFileSize.
	mbps := float64(after.FileSize) / (1024 * 1024) / 1.2 * 8 / after.Duration.Seconds()
	return int(mbps * 1000)
}
