// Package driver orchestrates a WARC-to-ZIM conversion: a first pass
// over the WARC records to discover the main page's title, language and
// favicon, then a second pass that rewrites and writes every record as
// a ZIM entry (or alias, for revisits).
package driver

import (
	"fmt"
	"strings"
)

// Config is the full set of conversion options the CLI exposes.
type Config struct {
	Inputs []string // WARC file paths
	Output string   // output directory

	Name            string
	Title           string
	Description     string
	LongDescription string
	Language        string
	Creator         string
	Publisher       string
	Tags            []string
	Source          string

	MainURL    string
	FaviconURL string
	CustomCSS  string // path or http(s) URL to a stylesheet

	IncludeDomains []string

	// DisableMetadataChecks skips the description/long-description
	// length validation below; it does not affect title, language or
	// favicon discovery, which always run.
	DisableMetadataChecks bool

	ProgressFile    string
	ScraperSuffix   string
	ContinueOnError bool
	FailedItemsFile string
	Verbose         bool
}

var defaultTags = []string{"_ftindex:yes", "_category:other"}

// normalizedTags returns Config.Tags with the archive's always-on tags
// prepended.
func (c *Config) normalizedTags() []string {
	out := make([]string, 0, len(defaultTags)+len(c.Tags))
	out = append(out, defaultTags...)
	out = append(out, c.Tags...)
	return out
}

const (
	maxDescriptionLen     = 30
	maxLongDescriptionLen = 4000
)

// validateMetadataLengths enforces the standard ZIM description and
// long-description length limits, unless DisableMetadataChecks opts out
// of them.
func (c *Config) validateMetadataLengths() error {
	if c.DisableMetadataChecks {
		return nil
	}
	if len(c.Description) > maxDescriptionLen {
		return fmt.Errorf("driver: --description must be at most %d characters, got %d", maxDescriptionLen, len(c.Description))
	}
	if len(c.LongDescription) > maxLongDescriptionLen {
		return fmt.Errorf("driver: --long-description must be at most %d characters, got %d", maxLongDescriptionLen, len(c.LongDescription))
	}
	return nil
}

// ZimFilename formats the output .zim filename, substituting "{name}"
// and "{period}" (normally the current year-month). Callers pass the
// already-formatted period in; wall-clock reads belong at the CLI entry
// point, not inside this package's tested logic.
func ZimFilename(pattern, name, period string) string {
	if pattern == "" {
		pattern = "{name}_{period}.zim"
	}
	r := strings.NewReplacer("{name}", name, "{period}", period)
	return r.Replace(pattern)
}
