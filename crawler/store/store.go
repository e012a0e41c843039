package store

import (
	"context"
	"time"
)

// VTTFile is one transcription artifact pair ready for persistence.
type VTTFile struct {
	TeletaskID     int64
	Language       string
	IsOriginalLang bool
	VTTData        []byte
	TXTData        []byte
	ASRModel       string
	ComputeType    string
}

// Lecture is the metadata scraped from a lecture page, normalized for the
// relational schema.
type Lecture struct {
	TeletaskID   int64
	Title        string
	Language     string
	Date         time.Time
	HasDate      bool
	Semester     string
	Duration     string
	LecturerID   int64
	LecturerName string
	SeriesID     int64
	SeriesName   string
	VideoURL     string
}

// APIKey is one control-plane credential record.
type APIKey struct {
	Key        string
	PersonName string
	Email      string
	Expiration time.Time
	Status     string
}

// Store is the repository contract the crawler depends on. Postgres is the
// only production implementation; tests substitute hand-written mocks.
type Store interface {
	// Schema
	Migrate(ctx context.Context) error

	// Scheduler-facing queries
	HighestStored(ctx context.Context) (int64, bool, error)
	SmallestStored(ctx context.Context) (int64, bool, error)
	MissingInBetween(ctx context.Context) ([]int64, error)
	OriginalExists(ctx context.Context, id int64) (bool, error)

	// Artifacts and metadata
	SaveVTT(ctx context.Context, f *VTTFile) error
	LectureLanguage(ctx context.Context, id int64) (string, bool, error)
	AddLecture(ctx context.Context, l *Lecture) error

	// Blacklist
	AddToBlacklist(ctx context.Context, id int64, reason string) error
	BlacklistedIDs(ctx context.Context) ([]int64, error)

	// Control-plane auth
	APIKey(ctx context.Context, key string) (*APIKey, error)

	Close()
}
