package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider,
// database, and storage changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VocabularyChanged is true when vocabulary correction was toggled or
	// the extra-terms list changed.
	VocabularyChanged bool

	// DraftRetentionChanged is true when drafts.retention_days changed.
	DraftRetentionChanged bool
	NewRetentionDays      int
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VocabularyChanged || d.DraftRetentionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.VocabularyCorrection != new.Pipeline.VocabularyCorrection ||
		!slices.Equal(old.Pipeline.ExtraTerms, new.Pipeline.ExtraTerms) {
		d.VocabularyChanged = true
	}

	if old.Drafts.RetentionDays != new.Drafts.RetentionDays {
		d.DraftRetentionChanged = true
		d.NewRetentionDays = new.Drafts.RetentionDays
	}

	return d
}
