package firmware

import (
	"fmt"
	"strconv"
	"strings"
)

// UnknownVersion is reported when no heuristic can read the build name.
// Extraction failure is never an error; an unknown version simply compares
// equal to everything.
const UnknownVersion = "Unknown"

const lettercodeYearBase = 2020

// ExtractVersion pulls a human version string and a build date out of a
// firmware build name. Two heuristics are tried in order:
//
//  1. Fixed-offset lettercode: build names like "R175XXU0AEB3" end in a
//     four-character code [year][month][rev][build] with 'A' = 2020 for the
//     year and 'A' = January for the month.
//  2. Underscore-delimited date: build names like "BUDSPLUS_1.4.2_20210317"
//     carry an eight-digit YYYYMMDD token.
//
// Neither heuristic is exhaustive; both failing yields UnknownVersion.
func ExtractVersion(buildName string) (version, buildDate string) {
	if v, d, ok := extractLettercode(buildName); ok {
		return v, d
	}
	if v, d, ok := extractDatedName(buildName); ok {
		return v, d
	}
	return UnknownVersion, UnknownVersion
}

func extractLettercode(buildName string) (string, string, bool) {
	name := strings.TrimSpace(buildName)
	if len(name) < 12 || strings.ContainsRune(name, '_') {
		return "", "", false
	}
	code := name[len(name)-4:]
	year := code[0]
	month := code[1]
	if year < 'A' || year > 'Z' || month < 'A' || month > 'L' {
		return "", "", false
	}
	date := fmt.Sprintf("%d-%02d", lettercodeYearBase+int(year-'A'), int(month-'A')+1)
	return code, date, true
}

func extractDatedName(buildName string) (string, string, bool) {
	tokens := strings.Split(buildName, "_")
	for i, tok := range tokens {
		if !isNumericDate(tok) {
			continue
		}
		date := fmt.Sprintf("%s-%s-%s", tok[0:4], tok[4:6], tok[6:8])
		version := UnknownVersion
		if i > 0 && strings.ContainsAny(tokens[i-1], "0123456789") {
			version = tokens[i-1]
		}
		return version, date, true
	}
	return "", "", false
}

func isNumericDate(tok string) bool {
	if len(tok) != 8 {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CompareVersions orders two extracted version strings. Returns -1, 0 or 1.
// Dotted versions compare component-wise with numeric ordering, so "1.10.0"
// outranks "1.9.0"; non-numeric components like lettercodes fall back to a
// lexical compare. Unknown versions compare equal to everything so that a
// failed extraction degrades to "no opinion" rather than blocking an update.
func CompareVersions(a, b string) int {
	if a == UnknownVersion || b == UnknownVersion || a == "" || b == "" {
		return 0
	}
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		if c := compareComponent(component(as, i), component(bs, i)); c != 0 {
			return c
		}
	}
	return 0
}

// A missing component counts as zero so "1.4" and "1.4.0" compare equal.
func component(parts []string, i int) string {
	if i >= len(parts) {
		return "0"
	}
	return parts[i]
}

func compareComponent(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
