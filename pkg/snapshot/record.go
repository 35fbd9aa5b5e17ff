package snapshot

import (
	"path"
	"strings"
)

// Record describes one snapshot directory found during a scan.
// Records are built fresh on every scan and never modified afterwards.
type Record struct {
	Tier      Tier
	Timestamp string
	// RelPath is slash-separated and relative to the backup root.
	RelPath   string
	SizeBytes uint64
}

// NewRecord derives tier and timestamp from a slash-separated relative path.
// The tier is the first ancestor segment naming a known tier, so nested
// layouts such as "srv1/hourly/backup_..." still classify.
func NewRecord(relPath string, sizeBytes uint64) Record {
	return Record{
		Tier:      tierOf(relPath),
		Timestamp: TimestampOf(path.Base(relPath)),
		RelPath:   relPath,
		SizeBytes: sizeBytes,
	}
}

func tierOf(relPath string) Tier {
	segments := strings.Split(relPath, "/")
	for _, seg := range segments[:len(segments)-1] {
		if t := ClassifyTier(seg); t != TierNone {
			return t
		}
	}
	return TierNone
}

// Name returns the terminal path component of the record.
func (r Record) Name() string {
	return path.Base(r.RelPath)
}
