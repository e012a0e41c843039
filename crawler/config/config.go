package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the crawler reads from the environment.
// Values mirror the deployment's .env file; all tunables have production
// defaults.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	// BaseURL is the lecture video page prefix; the lecture ID is appended.
	BaseURL string

	RefreshPeriod   time.Duration
	WorkerIdle      time.Duration
	EvictionTimeout time.Duration
	UpperWindow     int

	// RecordingDir receives downloaded media and extracted audio.
	RecordingDir string
	// ArtifactDir receives the .vtt and .txt files the recognizer writes.
	ArtifactDir string

	ASRCommand  string
	ASRModel    string
	ComputeType string

	// CredentialFile is watched for session-cookie rotation. When unset
	// the USERNAME_COOKIE environment variable is used instead and is not
	// watched.
	CredentialFile string

	Development bool
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getenv("LISTEN_ADDR", ":8000"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BaseURL:         getenv("LECTURE_BASE_URL", "https://www.tele-task.de/lecture/video/"),
		RefreshPeriod:   seconds("REFRESH_PERIOD_SECONDS", 1200),
		WorkerIdle:      seconds("WORKER_IDLE_SECONDS", 40),
		EvictionTimeout: seconds("INFLIGHT_EVICTION_SECONDS", 1200),
		UpperWindow:     intenv("UPPER_PROBE_WINDOW", 10),
		RecordingDir:    getenv("RECORDING_SOURCE_FOLDER", "input"),
		ArtifactDir:     getenv("VTT_DEST_FOLDER", "output"),
		ASRCommand:      getenv("ASR_COMMAND", "whisperx"),
		ASRModel:        getenv("ASR_MODEL", "turbo"),
		ComputeType:     getenv("COMPUTE_TYPE", "int8"),
		CredentialFile:  os.Getenv("SESSION_COOKIE_FILE"),
		Development:     os.Getenv("LOG_DEVELOPMENT") == "true",
	}

	if cfg.DatabaseURL == "" {
		url, err := databaseURLFromParts()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = url
	}
	if cfg.UpperWindow < 1 {
		return nil, fmt.Errorf("UPPER_PROBE_WINDOW must be positive, got %d", cfg.UpperWindow)
	}
	return cfg, nil
}

// databaseURLFromParts assembles a connection string from the discrete
// POSTGRES_* variables the deployment has always used.
func databaseURLFromParts() (string, error) {
	name := os.Getenv("POSTGRES_DB")
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	host := getenv("DB_HOST", "localhost")
	port := getenv("DB_PORT", "5432")
	if name == "" || user == "" {
		return "", fmt.Errorf("set DATABASE_URL or POSTGRES_DB/POSTGRES_USER")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name), nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intenv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func seconds(key string, fallback int) time.Duration {
	return time.Duration(intenv(key, fallback)) * time.Second
}
