package core

import (
	"errors"
	"strings"
)

type (
	// Asset is a single downloadable file attached to a release.
	Asset struct {
		Name        string
		DownloadURL string
		Size        int64
	}

	// Release is a versioned publication from the update feed.
	// It is fetched fresh on every check and never mutated.
	Release struct {
		Tag    string
		Assets []Asset
	}

	// Backup is a point-in-time copy of the accounts database.
	// Values are produced by the backup registry parser only.
	Backup struct {
		Path       string
		Timestamp  string // DD-MM-YYYY_HH-MM-SS
		AppVersion string
	}
)

var (
	ErrEmptyTag           = errors.New("empty release tag")
	ErrEmptyAssetName     = errors.New("empty asset name")
	ErrEmptyAssetURL      = errors.New("empty asset download url")
	ErrNegativeSize       = errors.New("negative asset size")
	ErrEmptyBackupPath    = errors.New("empty backup path")
	ErrEmptyTimestamp     = errors.New("empty backup timestamp")
	ErrEmptyBackupVersion = errors.New("empty backup app version")
)

func (a Asset) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyAssetName
	}
	if strings.TrimSpace(a.DownloadURL) == "" {
		return ErrEmptyAssetURL
	}
	if a.Size < 0 {
		return ErrNegativeSize
	}
	return nil
}

func (r Release) Validate() error {
	if strings.TrimSpace(r.Tag) == "" {
		return ErrEmptyTag
	}
	for _, a := range r.Assets {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AssetFor returns the asset with exactly the given name.
func (r Release) AssetFor(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

func (b Backup) Validate() error {
	if b.Path == "" {
		return ErrEmptyBackupPath
	}
	if b.Timestamp == "" {
		return ErrEmptyTimestamp
	}
	if b.AppVersion == "" {
		return ErrEmptyBackupVersion
	}
	return nil
}

// Key identifies a backup independently of where it lives on disk.
func (b Backup) Key() string {
	return b.Timestamp + "_" + b.AppVersion
}
