package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
)

// extractAudio produces <recordingDir>/<id>.mp3 from the media URL.
// ffmpeg reads straight from the URL first; when the portal's media host
// refuses range requests mid-stream that fails, so the fallback downloads
// the full mp4 and converts locally.
func (p *Pipeline) extractAudio(ctx context.Context, mediaURL string, id int64) error {
	audio := p.audioPath(id)
	if err := p.convertToMP3(ctx, mediaURL, audio); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return err
	} else {
		p.log.Warnw("direct conversion failed, downloading first", "id", id, "error", err)
	}

	video := p.videoPath(id)
	if err := p.download(ctx, mediaURL, video); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer os.Remove(video)

	if err := p.convertToMP3(ctx, video, audio); err != nil {
		return fmt.Errorf("convert downloaded media: %w", err)
	}
	return nil
}

// convertToMP3 runs ffmpeg on source (URL or local file), dropping the
// video track and encoding the audio as mp3.
func (p *Pipeline) convertToMP3(ctx context.Context, source, dest string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", source,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-f", "mp3",
		dest,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, stderr.String())
	}
	return nil
}

// download streams the media file to dest.
func (p *Pipeline) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media host returned %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}
