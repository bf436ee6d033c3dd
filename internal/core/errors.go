package core

import "errors"

// Update pipeline error kinds. Concrete errors wrap one of these so the
// orchestrator can match them with errors.Is.
var (
	// ErrNetwork covers connection failures, timeouts and redirect loops.
	ErrNetwork = errors.New("network error")
	// ErrOffline is returned when the connectivity probe fails. It wraps ErrNetwork.
	ErrOffline = &offlineError{}
	// ErrFeed covers non-2xx feed responses and undecodable payloads.
	ErrFeed = errors.New("release feed error")

	ErrAssetNotFound    = errors.New("asset not found for platform")
	ErrDownloadFailed   = errors.New("download failed")
	ErrExtractionFailed = errors.New("extraction failed")

	ErrBackupCopy      = errors.New("backup copy failed")
	ErrBackupMigration = errors.New("backup migration failed")

	// ErrApply means the live installation may already have been modified.
	// Recovery is manual, from the previous-version copy.
	ErrApply = errors.New("apply failed")
)

type offlineError struct{}

func (*offlineError) Error() string { return "update host unreachable" }

func (*offlineError) Unwrap() error { return ErrNetwork }

// Recoverable reports whether err left the live installation untouched.
func Recoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrApply)
}
