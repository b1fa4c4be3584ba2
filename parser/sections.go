package parser

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// headingFamily is one heuristic heading pattern. Families are listed in
// priority order; when candidates from different families start at the
// same offset the earlier family wins.
type headingFamily struct {
	name    string
	pattern *regexp.Regexp
	title   func(m []string) string
	accept  func(title string) bool
}

var headingFamilies = []headingFamily{
	{
		name:    "markdown",
		pattern: regexp.MustCompile(`(?m)^#{1,3}[ \t]+(.+)$`),
		title:   func(m []string) string { return strings.TrimSpace(m[1]) },
	},
	{
		name:    "numbered",
		pattern: regexp.MustCompile(`(?m)^\d+\.?[ \t]+[A-Z].+$`),
		title:   func(m []string) string { return strings.TrimSpace(m[0]) },
	},
	{
		name:    "allcaps",
		pattern: regexp.MustCompile(`(?m)^[A-Z][A-Z0-9 \t,:&'()/-]{2,}$`),
		title:   func(m []string) string { return strings.TrimSpace(m[0]) },
		accept:  func(title string) bool { return countLetters(title) >= 2 },
	},
	{
		name:    "titlecase",
		pattern: regexp.MustCompile(`(?m)^[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){0,5}:?$`),
		title: func(m []string) string {
			return strings.TrimSuffix(strings.TrimSpace(m[0]), ":")
		},
	},
}

type sectionCandidate struct {
	Section
	family int
}

// SplitSections heuristically segments content into titled sections. Each
// heading match opens a section that runs to the next match of the same
// pattern family. Sections whose span is barely longer than their title
// are dropped. Overlaps between families are resolved by start offset,
// then family priority, then title length, keeping a candidate only if it
// starts at or after the end of the last one kept.
func SplitSections(content string) []Section {
	var candidates []sectionCandidate
	for fi, fam := range headingFamilies {
		matches := fam.pattern.FindAllStringSubmatchIndex(content, -1)
		for i, loc := range matches {
			groups := submatches(content, loc)
			title := fam.title(groups)
			if title == "" || (fam.accept != nil && !fam.accept(title)) {
				continue
			}

			start, headEnd := loc[0], loc[1]
			end := len(content)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			if len(strings.TrimSpace(content[start:end])) <= len(title)+10 {
				continue
			}

			candidates = append(candidates, sectionCandidate{
				Section: Section{
					Title:      title,
					Content:    strings.TrimSpace(content[headEnd:end]),
					StartIndex: start,
					EndIndex:   end,
				},
				family: fi,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		if a.family != b.family {
			return a.family < b.family
		}
		return len(a.Title) > len(b.Title)
	})

	var sections []Section
	lastEnd := 0
	for _, c := range candidates {
		if c.StartIndex < lastEnd {
			continue
		}
		sections = append(sections, c.Section)
		lastEnd = c.EndIndex
	}
	return sections
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = s[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
