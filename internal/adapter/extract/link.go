package extract

import (
	"strings"
	"unicode/utf8"

	"chai/internal/domain"
)

// minNameOverlap is the share of the longer name a prefix match must cover.
const minNameOverlap = 80

// LinkSamples pairs each sample listing with the main product of the same
// name and returns the sample URL keyed by the main product ID. Sets are
// never linked. A sample name may also be a prefix of the main name (or the
// other way round) when the shorter covers at least 80% of the longer; the
// longest such match wins.
func LinkSamples(records []domain.TeaRecord) map[string]string {
	var mains []domain.TeaRecord
	for _, r := range records {
		if !r.IsSample && r.Name != "" {
			mains = append(mains, r)
		}
	}

	links := make(map[string]string)
	for _, s := range records {
		if !s.IsSample || s.IsSet || s.Name == "" {
			continue
		}
		sampleName := normalizeSampleName(s.Name)
		if sampleName == "" {
			continue
		}

		best, bestLen := "", -1
		for _, m := range mains {
			mainName := strings.ToLower(strings.TrimSpace(m.Name))
			if mainName == sampleName {
				best = m.ID
				break
			}
			if !strings.HasPrefix(mainName, sampleName) && !strings.HasPrefix(sampleName, mainName) {
				continue
			}
			sl, ml := utf8.RuneCountInString(sampleName), utf8.RuneCountInString(mainName)
			shorter, longer := min(sl, ml), max(sl, ml)
			if shorter*100/longer >= minNameOverlap && shorter > bestLen {
				best, bestLen = m.ID, shorter
			}
		}
		if best != "" {
			links[best] = s.URL
		}
	}
	return links
}

// normalizeSampleName drops the "copy: " and "пробник " prefixes the shop
// puts in front of sample titles.
func normalizeSampleName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = trimAllPrefix(s, "copy: ")
	s = trimAllPrefix(s, "пробник ")
	return strings.TrimSpace(s)
}

func trimAllPrefix(s, prefix string) string {
	for strings.HasPrefix(s, prefix) {
		s = s[len(prefix):]
	}
	return s
}
