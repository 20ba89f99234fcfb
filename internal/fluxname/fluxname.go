// Package fluxname parses FLUXNET archive filenames. Archives follow
// the pattern <network>_<site>_FLUXNET_<y1>-<y2>_<version>_<run>.zip,
// e.g. AMF_US-Ha1_FLUXNET_1991-2020_v1.2_r2.zip.
package fluxname

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var zipPattern = regexp.MustCompile(
	`(?i)^([A-Z]{2,10})_([A-Z]{2}-[A-Za-z0-9]{3})_FLUXNET_(\d{4})-(\d{4})_(v\d+(?:\.\d+)?)_(r\d+)\.zip$`,
)

// Metadata is the information encoded in a FLUXNET archive filename.
type Metadata struct {
	Network   string
	SiteID    string
	FirstYear int
	LastYear  int
	Version   string
	Run       string
}

// FilenameFromURL extracts the bare filename from a URL, dropping query
// parameters and undoing percent-encoding. A plain filename passes
// through unchanged.
func FilenameFromURL(raw string) string {
	path := raw
	if parsed, err := url.Parse(raw); err == nil {
		path = parsed.Path
	}
	segments := strings.Split(path, "/")
	name := segments[len(segments)-1]
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

// Parse extracts archive metadata from a filename or URL. ok is false
// when the name does not follow the archive pattern.
func Parse(name string) (meta Metadata, ok bool) {
	match := zipPattern.FindStringSubmatch(FilenameFromURL(name))
	if match == nil {
		return Metadata{}, false
	}

	firstYear, _ := strconv.Atoi(match[3])
	lastYear, _ := strconv.Atoi(match[4])
	return Metadata{
		Network:   match[1],
		SiteID:    match[2],
		FirstYear: firstYear,
		LastYear:  lastYear,
		Version:   match[5],
		Run:       match[6],
	}, true
}

// Valid reports whether a filename or URL follows the archive pattern.
func Valid(name string) bool {
	_, ok := Parse(name)
	return ok
}

// versionParts parses "v1.3" into [1 3].
func versionParts(version string) []int {
	trimmed := strings.TrimPrefix(strings.ToLower(version), "v")
	pieces := strings.Split(trimmed, ".")
	parts := make([]int, 0, len(pieces))
	for _, piece := range pieces {
		n, err := strconv.Atoi(piece)
		if err != nil {
			return parts
		}
		parts = append(parts, n)
	}
	return parts
}

// runNumber parses "r2" into 2.
func runNumber(run string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(strings.ToLower(run), "r"))
	return n
}

// Newer reports whether candidate supersedes current: higher version
// wins, with the run number breaking version ties.
func (m Metadata) Newer(current Metadata) bool {
	mine := versionParts(m.Version)
	theirs := versionParts(current.Version)

	for i := 0; i < len(mine) && i < len(theirs); i++ {
		if mine[i] != theirs[i] {
			return mine[i] > theirs[i]
		}
	}

	return runNumber(m.Run) > runNumber(current.Run)
}
