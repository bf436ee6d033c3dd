package update

import (
	"errors"

	"spese-desktop/internal/core"
)

// UserMessage turns a pipeline error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrOffline):
		return "update check failed: the update server is unreachable"
	case errors.Is(err, core.ErrNetwork), errors.Is(err, core.ErrFeed):
		return "update check failed"
	case errors.Is(err, core.ErrAssetNotFound):
		return "no update available for this platform"
	case errors.Is(err, core.ErrDownloadFailed):
		return "the update could not be downloaded"
	case errors.Is(err, core.ErrExtractionFailed):
		return "the downloaded update is damaged"
	case errors.Is(err, core.ErrBackupCopy), errors.Is(err, core.ErrBackupMigration):
		return "your backups could not be prepared for the new version; nothing was changed"
	case errors.Is(err, core.ErrApply):
		return "the update could not be completed; restore the PreviousVersion folder to recover"
	default:
		return "update failed"
	}
}
