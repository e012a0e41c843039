package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"
)

var detectedLanguageRe = regexp.MustCompile(`Detected language:\s*([A-Za-z-]+)`)

// Recognizer invokes the external speech-to-text command (a
// whisperx-compatible CLI) and collects the artifacts it writes.
type Recognizer struct {
	command     string
	model       string
	computeType string
	artifactDir string
	log         *zap.SugaredLogger
}

// NewRecognizer creates a Recognizer writing into artifactDir.
func NewRecognizer(command, model, computeType, artifactDir string, log *zap.SugaredLogger) *Recognizer {
	return &Recognizer{
		command:     command,
		model:       model,
		computeType: computeType,
		artifactDir: artifactDir,
		log:         log,
	}
}

// Transcribe runs the ASR command on the audio file and returns the
// detected language. The command writes <id>.vtt and <id>.txt into the
// artifact directory, named after the audio file's stem.
func (r *Recognizer) Transcribe(ctx context.Context, id int64, audio string) (string, error) {
	if err := os.MkdirAll(r.artifactDir, 0o755); err != nil {
		return "", fmt.Errorf("artifact dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.command,
		audio,
		"--model", r.model,
		"--compute_type", r.computeType,
		"--device", "cpu",
		"--output_dir", r.artifactDir,
		"--output_format", "all",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", r.command, err, tail(out.Bytes(), 512))
	}

	m := detectedLanguageRe.FindSubmatch(out.Bytes())
	if m == nil {
		return "", fmt.Errorf("%s did not report a detected language", r.command)
	}
	language := string(m[1])
	r.log.Debugw("speech recognized", "id", id, "language", language)
	return language, nil
}

// Artifacts reads back the .vtt and .txt files the command produced.
func (r *Recognizer) Artifacts(id int64) (vtt, txt []byte, err error) {
	vtt, err = os.ReadFile(filepath.Join(r.artifactDir, fmt.Sprintf("%d.vtt", id)))
	if err != nil {
		return nil, nil, err
	}
	txt, err = os.ReadFile(filepath.Join(r.artifactDir, fmt.Sprintf("%d.txt", id)))
	if err != nil {
		return nil, nil, err
	}
	return vtt, txt, nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
