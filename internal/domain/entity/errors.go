package entity

import "errors"

var (
	// ErrMalformedTelemetry means the subtitle track could not be read at
	// all. Blocks missing telemetry fields are skipped, not errors.
	ErrMalformedTelemetry = errors.New("malformed telemetry track")

	// ErrNoTelemetry means the track parsed cleanly but produced zero
	// samples; the pipeline cannot attach coordinates to any frame.
	ErrNoTelemetry = errors.New("no telemetry samples")

	// ErrMalformedVerdict means the classifier's answer did not match the
	// three-field format and was not a recognized refusal.
	ErrMalformedVerdict = errors.New("malformed classification verdict")

	// ErrRateLimited marks a classification failure that is worth
	// retrying after a back-off interval.
	ErrRateLimited = errors.New("classification rate limited")

	// ErrMissingAPIKey means the classifier credentials are absent.
	// Surfaced at startup, before any sampling work is done.
	ErrMissingAPIKey = errors.New("classifier API key not configured")
)
