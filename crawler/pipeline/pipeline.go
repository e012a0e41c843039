package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/C0NZZ/better-teletask/crawler/resolver"
	"github.com/C0NZZ/better-teletask/crawler/store"
)

// Fetcher resolves a lecture ID to its media URL and page metadata.
type Fetcher interface {
	Fetch(ctx context.Context, id int64) (*resolver.Lecture, error)
}

// Repository is the subset of store operations the pipeline persists into.
type Repository interface {
	SaveVTT(ctx context.Context, f *store.VTTFile) error
	LectureLanguage(ctx context.Context, id int64) (string, bool, error)
	AddLecture(ctx context.Context, l *store.Lecture) error
	AddToBlacklist(ctx context.Context, id int64, reason string) error
}

// Pipeline drives one lecture from media URL to persisted transcript:
// resolve, extract audio, recognize, store. Re-running it for the same ID
// only appends another artifact row, so at-least-once scheduling across
// restarts is safe.
type Pipeline struct {
	fetcher      Fetcher
	repo         Repository
	rec          *Recognizer
	http         *http.Client
	recordingDir string
	log          *zap.SugaredLogger
}

// New creates a Pipeline. recordingDir receives downloaded media and
// extracted audio and is created if missing.
func New(fetcher Fetcher, repo Repository, rec *Recognizer, recordingDir string, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		repo:    repo,
		rec:     rec,
		// Media downloads are large; no overall timeout, cancellation
		// comes from the context.
		http:         &http.Client{},
		recordingDir: recordingDir,
		log:          log,
	}
}

// Process runs the full pipeline for one lecture ID.
func (p *Pipeline) Process(ctx context.Context, id int64) error {
	lec, err := p.fetcher.Fetch(ctx, id)
	if err != nil {
		// A page without any mp4 rendition will never become processable.
		if blErr := p.repo.AddToBlacklist(ctx, id, "no media url"); blErr != nil {
			p.log.Errorw("blacklist insert failed", "id", id, "error", blErr)
		}
		return fmt.Errorf("resolve: %w", err)
	}

	p.storeMetadata(ctx, lec)

	if err := os.MkdirAll(p.recordingDir, 0o755); err != nil {
		return fmt.Errorf("recording dir: %w", err)
	}
	audio := p.audioPath(id)
	if err := p.extractAudio(ctx, lec.MediaURL, id); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	defer os.Remove(audio)

	language, err := p.rec.Transcribe(ctx, id, audio)
	if err != nil {
		if blErr := p.repo.AddToBlacklist(ctx, id, "transcription failed"); blErr != nil {
			p.log.Errorw("blacklist insert failed", "id", id, "error", blErr)
		}
		return fmt.Errorf("transcribe: %w", err)
	}

	vtt, txt, err := p.rec.Artifacts(id)
	if err != nil {
		return fmt.Errorf("read artifacts: %w", err)
	}
	if err := p.repo.SaveVTT(ctx, &store.VTTFile{
		TeletaskID:     id,
		Language:       language,
		IsOriginalLang: true,
		VTTData:        vtt,
		TXTData:        txt,
		ASRModel:       p.rec.model,
		ComputeType:    p.rec.computeType,
	}); err != nil {
		return fmt.Errorf("persist artifacts: %w", err)
	}

	p.log.Infow("transcription stored", "id", id, "language", language)
	return nil
}

// storeMetadata persists the scraped lecture metadata unless the
// repository already knows this lecture. Metadata problems never fail the
// pipeline; the transcript is the artifact that matters.
func (p *Pipeline) storeMetadata(ctx context.Context, lec *resolver.Lecture) {
	_, known, err := p.repo.LectureLanguage(ctx, lec.ID)
	if err != nil {
		p.log.Warnw("lecture metadata lookup failed", "id", lec.ID, "error", err)
		return
	}
	if known {
		return
	}
	if err := p.repo.AddLecture(ctx, normalizeLecture(lec)); err != nil {
		p.log.Warnw("lecture metadata insert failed", "id", lec.ID, "error", err)
	}
}

func (p *Pipeline) audioPath(id int64) string {
	return filepath.Join(p.recordingDir, fmt.Sprintf("%d.mp3", id))
}

func (p *Pipeline) videoPath(id int64) string {
	return filepath.Join(p.recordingDir, fmt.Sprintf("%d.mp4", id))
}

// normalizeLecture maps the scraped page fields onto the relational
// schema: the portal writes dates like "October 12, 2023", names
// languages in full, and the semester is derived from the date.
func normalizeLecture(lec *resolver.Lecture) *store.Lecture {
	l := &store.Lecture{
		TeletaskID:   lec.ID,
		Title:        lec.Title,
		Duration:     lec.Duration,
		LecturerID:   lec.LecturerID,
		LecturerName: lec.LecturerName,
		SeriesID:     lec.SeriesID,
		SeriesName:   lec.SeriesName,
		VideoURL:     lec.MediaURL,
	}

	if lec.Language == "English" {
		l.Language = "en"
	} else {
		l.Language = "de"
	}

	if date, err := time.Parse("January 2, 2006", lec.Date); err == nil {
		l.Date = date
		l.HasDate = true
		l.Semester = semester(date)
	}
	return l
}

func semester(date time.Time) string {
	if date.Month() < 3 || date.Month() > 10 {
		return fmt.Sprintf("WT %d/%d", date.Year()-1, date.Year())
	}
	return fmt.Sprintf("ST %d", date.Year())
}
