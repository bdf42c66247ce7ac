package archive

import (
	"fmt"
	"strings"
	"time"
)

// ====================================================================================
// An Archive ("can") is one legacy measurement file in the source store. Cans live
// under canned/YYYY-MM-DD/ and come in a handful of layouts, see decoder.go.
// ====================================================================================

const (
	// CannedPrefix is the top-level source prefix holding the dated can directories.
	CannedPrefix = "canned/"
	dayLayout    = "2006-01-02"
)

// Archive describes one source can.
type Archive struct {
	Key  string
	Size int64
	// Date is inferred from the key and is nil when the key is not dated.
	Date *time.Time
}

// DayPrefix returns the listing prefix for all cans of a day.
func DayPrefix(day time.Time) string {
	return CannedPrefix + day.Format(dayLayout) + "/"
}

// ParseArchiveDate infers the day from a key shaped canned/YYYY-MM-DD/....
func ParseArchiveDate(key string) (*time.Time, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 || parts[0]+"/" != CannedPrefix {
		return nil, fmt.Errorf("archive key %q is not under %sYYYY-MM-DD/", key, CannedPrefix)
	}
	d, err := time.Parse(dayLayout, parts[1])
	if err != nil {
		return nil, fmt.Errorf("archive key %q has no valid date: %w", key, err)
	}
	return &d, nil
}

var canSuffixes = []string{
	".jsonl", ".json", ".jsonl.gz", ".json.gz",
	".json.lz4", ".jsonl.lz4",
	".yaml", ".yaml.lz4", ".yaml.gz",
	".tar.lz4", ".tar.gz",
}

// IsCan reports whether the key has one of the can extensions the decoder reads.
func IsCan(key string) bool {
	for _, s := range canSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}
