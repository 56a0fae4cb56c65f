package disc

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultLabel is shown when the disc carries no usable volume title.
const DefaultLabel = "DVD"

var (
	allDigitsPattern = regexp.MustCompile(`^\d+$`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// IsUnusableLabel reports whether a volume title is a generic authoring
// default rather than a name.
func IsUnusableLabel(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" {
		return true
	}
	upper := strings.ToUpper(label)
	for _, pattern := range []string{
		"LOGICAL_VOLUME_ID", "VOLUME_ID", "DVD_VIDEO", "DVDVIDEO",
		"UNTITLED", "UNKNOWN DISC", "VOLUME_", "VOLUME ID",
	} {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return allDigitsPattern.MatchString(label)
}

// CleanLabel turns a volume title into something fit for a window caption:
// underscores become spaces and the words are title cased.
func CleanLabel(label string) string {
	if IsUnusableLabel(label) {
		return DefaultLabel
	}
	label = strings.ReplaceAll(strings.TrimSpace(label), "_", " ")
	label = spacePattern.ReplaceAllString(label, " ")
	return cases.Title(language.Und).String(strings.ToLower(label))
}

// TrackLabel is the caption for one track of a disc.
func TrackLabel(disc string, track int) string {
	if track <= 0 {
		return disc
	}
	return fmt.Sprintf("%s - Title %d", disc, track)
}
