// Package backuplabel generates, parses, and orders backup labels.
//
// A label is "YYYYMMDD-HHMMSSF" for a full backup, or
// "YYYYMMDD-HHMMSS_YYYYMMDD-HHMMSSX" for a backup derived from a full, where
// X is D (differential) or I (incremental). The first 15 characters of a
// derived label (its bare timestamp) equal the first 15 characters of its
// ancestor full backup's label, and lexicographic order of labels agrees
// with chronological order within a single full-backup chain.
package backuplabel

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/pixelgardenlabs/pgl-backup/pkg/perr"
)

// Type identifies the kind of backup a label encodes.
type Type int

const (
	Full Type = iota
	Diff
	Incr
)

var typeToString = map[Type]string{
	Full: "full",
	Diff: "diff",
	Incr: "incr",
}

func (t Type) String() string {
	if s, ok := typeToString[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown_type(%d)", int(t))
}

const timeLayout = "20060102-150405"

var (
	fullRe = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}F$`)
	diffRe = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}_[0-9]{8}-[0-9]{6}D$`)
	incrRe = regexp.MustCompile(`^[0-9]{8}-[0-9]{6}_[0-9]{8}-[0-9]{6}I$`)
)

// Predicate returns an anchored regex matching labels of the requested
// kinds. At least one of includeFull, includeDiff, includeIncr must be true.
func Predicate(includeFull, includeDiff, includeIncr bool) (*regexp.Regexp, error) {
	if !includeFull && !includeDiff && !includeIncr {
		return nil, fmt.Errorf("%w: at least one backup type must be requested", perr.ErrParam)
	}
	parts := make([]string, 0, 3)
	if includeFull {
		parts = append(parts, fullRe.String())
	}
	if includeDiff {
		parts = append(parts, diffRe.String())
	}
	if includeIncr {
		parts = append(parts, incrRe.String())
	}
	combined := parts[0][1 : len(parts[0])-1]
	for _, p := range parts[1:] {
		combined += "|" + p[1:len(p)-1]
	}
	return regexp.MustCompile("^(?:" + combined + ")$"), nil
}

// IsFull reports whether label matches the full-backup grammar.
func IsFull(label string) bool { return fullRe.MatchString(label) }

// IsDiff reports whether label matches the differential grammar.
func IsDiff(label string) bool { return diffRe.MatchString(label) }

// IsIncr reports whether label matches the incremental grammar.
func IsIncr(label string) bool { return incrRe.MatchString(label) }

// TypeOf classifies a well-formed label. The label must already have been
// validated by one of the Is* predicates or Predicate's regex.
func TypeOf(label string) (Type, error) {
	switch {
	case IsFull(label):
		return Full, nil
	case IsDiff(label):
		return Diff, nil
	case IsIncr(label):
		return Incr, nil
	default:
		return Full, fmt.Errorf("%w: %q is not a well-formed backup label", perr.ErrMalformedManifest, label)
	}
}

// AncestorFull returns the label of the ancestor full backup for a derived
// label, or the label itself if it is already full.
func AncestorFull(label string) (string, error) {
	if IsFull(label) {
		return label, nil
	}
	if IsDiff(label) || IsIncr(label) {
		return label[:15] + "F", nil
	}
	return "", fmt.Errorf("%w: %q is not a well-formed backup label", perr.ErrMalformedManifest, label)
}

// FindPrior chooses the prior backup to build against, given the list of
// existing labels and the requested type.
//
// For Incr, the most recent label under any of {full,diff,incr} wins; for
// Diff or Full, only the most recent full is considered. Ordering is
// reverse lexicographic, which equals reverse chronological within a chain.
// An empty return means no suitable prior exists; the caller decides
// whether to coerce the requested type to Full.
func FindPrior(labels []string, t Type) string {
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))

	if t == Incr {
		for _, l := range sorted {
			if IsFull(l) || IsDiff(l) || IsIncr(l) {
				return l
			}
		}
		return ""
	}
	for _, l := range sorted {
		if IsFull(l) {
			return l
		}
	}
	return ""
}

// NewLabel composes a new label for the given type, prior label (ignored
// for Full), and timestamp.
func NewLabel(prior string, t Type, now time.Time) (string, error) {
	ts := now.UTC().Format(timeLayout)
	switch t {
	case Full:
		return ts + "F", nil
	case Diff, Incr:
		if prior == "" {
			return "", fmt.Errorf("%w: derived backup requires a prior label", perr.ErrParam)
		}
		ancestorFull, err := AncestorFull(prior)
		if err != nil {
			return "", err
		}
		suffix := "D"
		if t == Incr {
			suffix = "I"
		}
		return ancestorFull[:15] + "_" + ts + suffix, nil
	default:
		return "", fmt.Errorf("%w: unknown backup type %v", perr.ErrParam, t)
	}
}
