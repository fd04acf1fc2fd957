package jobs

import "errors"

var (
	ErrJobNotFound          = errors.New("jobs: job not found")
	ErrProjectNotFound      = errors.New("jobs: project not found")
	ErrArtifactNotFound     = errors.New("jobs: audio file not found")
	ErrGenerationInProgress = errors.New("jobs: generation already in progress")
	ErrLyricsRequired       = errors.New("jobs: no lyrics found for TEXT mode")
	ErrContextRequired      = errors.New("jobs: context_input required for CONTEXT mode")
	ErrInvalidMode          = errors.New("jobs: mode must be TEXT or CONTEXT")
	ErrJobNotCompleted      = errors.New("jobs: job is not completed")
	ErrNoAudioID            = errors.New("jobs: no provider audio id for this file")
	ErrVideoInProgress      = errors.New("jobs: a video is already being generated")
	ErrProviderTimeout      = errors.New("jobs: provider timed out")
)

// Refund and failure reasons recorded on entries and jobs.
const (
	reasonTimeout          = "timeout"
	reasonGenerationFailed = "generation_failed"
	reasonWorkerError      = "worker_error"
	reasonVideoFailed      = "video_failed"
	reasonLyricsFailed     = "lyrics_failed"
)
