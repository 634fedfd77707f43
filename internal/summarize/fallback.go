package summarize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// FallbackSynopsis is used when the transcript yields nothing to summarize
const FallbackSynopsis = "Podcast episode discussion covering various topics."

const (
	maxFallbackTopics = 5
	maxFallbackThemes = 3
	maxFallbackQuotes = 3
	minQuoteWords     = 6
	maxSynopsisWords  = 60
	defaultTheme      = "general discussion"
)

var (
	quotePattern    = regexp.MustCompile(`["“]([^"“”]+)["”]`)
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// orgSuffixWords follow a capitalized name, as in "Acme Corp"
var orgSuffixWords = map[string]bool{
	"inc": true, "corp": true, "corporation": true, "llc": true, "labs": true,
	"ltd": true, "ai": true, "technologies": true, "capital": true,
	"ventures": true, "partners": true, "group": true, "systems": true,
}

// orgWordSuffixes end a single-word name, as in "DeepLabs"
var orgWordSuffixes = []string{"inc", "corp", "llc", "labs"}

var stopWords = toSet(`a about above after again against all also am an and any are around as at
back be because been before being below between both but by can come could did do does doing
done down during each even every everyone everything few first for from further get getting go
going gonna got great had has have having he her here hers herself him himself his how i if in
into is it its itself just kind know let like little lot made make many maybe me mean might more
most much must my myself never no nor not now of off okay on once one only or other others our
ours ourselves out over own people pretty quite rather really right said same say saying see she
should so some something sort still stuff such talk talking than thank thanks that the their
theirs them themselves then there these they thing things think this those though three through
to today too two under until up us very want was way we well were what when where whether which
while who whole whom why will with within without would yeah year years yes you your yours
yourself yourselves actually anything basically always another different episode podcast welcome
something someone going really maybe`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

type token struct {
	raw  string // as it appears in the text, punctuation included
	word string // raw with leading and trailing punctuation removed
}

func tokenize(text string) []token {
	fields := strings.Fields(text)
	tokens := make([]token, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" {
			continue
		}
		tokens = append(tokens, token{raw: f, word: w})
	}
	return tokens
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func isCapitalized(s string) bool {
	if len([]rune(s)) < 2 || !isAlpha(s) {
		return false
	}
	return unicode.IsUpper([]rune(s)[0])
}

func isContentWord(lower string, minLen int) bool {
	return len([]rune(lower)) >= minLen && isAlpha(lower) && !stopWords[lower]
}

// endsClause reports whether the raw token closes a sentence or clause
func endsClause(raw string) bool {
	return strings.ContainsAny(raw[len(raw)-1:], ".!?,;:")
}

// ExtractFallback builds a summary from the transcript text alone. The
// output depends only on the input text.
func ExtractFallback(text string) *StructuredSummary {
	tokens := tokenize(text)
	topics := extractTopics(tokens)

	return &StructuredSummary{
		Synopsis:      buildSynopsis(text, topics),
		KeyTopics:     topics,
		Themes:        extractThemes(tokens),
		Quotes:        extractQuotes(text),
		Organizations: extractOrganizations(tokens),
	}
}

type counted struct {
	key   string
	count int
}

// topN sorts by count descending, ties alphabetical
func topN(freq map[string]int, n, minCount int) []string {
	items := make([]counted, 0, len(freq))
	for k, c := range freq {
		if c >= minCount {
			items = append(items, counted{k, c})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key < items[j].key
	})
	out := make([]string, 0, n)
	for _, it := range items {
		if len(out) == n {
			break
		}
		out = append(out, it.key)
	}
	return out
}

func extractTopics(tokens []token) []string {
	freq := make(map[string]int)
	for _, t := range tokens {
		lower := strings.ToLower(t.word)
		if isContentWord(lower, 5) {
			freq[lower]++
		}
	}
	return topN(freq, maxFallbackTopics, 1)
}

func extractThemes(tokens []token) []string {
	freq := make(map[string]int)
	for i := 0; i+1 < len(tokens); i++ {
		if endsClause(tokens[i].raw) {
			continue
		}
		a, b := strings.ToLower(tokens[i].word), strings.ToLower(tokens[i+1].word)
		if isContentWord(a, 4) && isContentWord(b, 4) && a != b {
			freq[a+" "+b]++
		}
	}
	themes := topN(freq, maxFallbackThemes, 2)
	if len(themes) == 0 {
		return []string{defaultTheme}
	}
	return themes
}

func extractQuotes(text string) []string {
	var quotes []string
	seen := make(map[string]bool)
	for _, m := range quotePattern.FindAllStringSubmatch(text, -1) {
		q := strings.Join(strings.Fields(m[1]), " ")
		if len(strings.Fields(q)) < minQuoteWords || seen[q] {
			continue
		}
		seen[q] = true
		quotes = append(quotes, q)
		if len(quotes) == maxFallbackQuotes {
			break
		}
	}
	return quotes
}

func extractOrganizations(tokens []token) []string {
	found := make(map[string]bool)

	for i, t := range tokens {
		lower := strings.ToLower(t.word)
		if orgSuffixWords[lower] && i > 0 && !endsClause(tokens[i-1].raw) {
			prev := tokens[i-1].word
			if isCapitalized(prev) && !stopWords[strings.ToLower(prev)] {
				found[prev+" "+t.word] = true
				continue
			}
		}
		if isCapitalized(t.word) {
			for _, suffix := range orgWordSuffixes {
				if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix)+1 {
					found[t.word] = true
					break
				}
			}
		}
	}

	// capitalized multi-word names mentioned at least twice
	names := make(map[string]int)
	var run []string
	flush := func() {
		for len(run) > 0 && stopWords[strings.ToLower(run[0])] {
			run = run[1:]
		}
		if len(run) >= 2 {
			names[strings.Join(run, " ")]++
		}
		run = run[:0]
	}
	for _, t := range tokens {
		if isCapitalized(t.word) {
			run = append(run, t.word)
			if endsClause(t.raw) {
				flush()
			}
			continue
		}
		flush()
	}
	flush()
	for name, c := range names {
		if c >= 2 {
			found[name] = true
		}
	}

	orgs := make([]string, 0, len(found))
	for name := range found {
		orgs = append(orgs, name)
	}
	sort.Strings(orgs)
	return orgs
}

func buildSynopsis(text string, topics []string) string {
	normalized := strings.Join(strings.Fields(text), " ")

	var parts []string
	words := 0
	for _, s := range sentencePattern.FindAllString(normalized, -1) {
		s = strings.TrimSpace(s)
		n := len(strings.Fields(s))
		if n == 0 {
			continue
		}
		if words+n > maxSynopsisWords {
			if words == 0 {
				parts = append(parts, strings.Join(strings.Fields(s)[:maxSynopsisWords], " ")+"...")
			}
			break
		}
		parts = append(parts, s)
		words += n
	}

	if len(parts) == 0 && len(topics) == 0 {
		return FallbackSynopsis
	}

	var b strings.Builder
	if len(topics) > 0 {
		b.WriteString("Topics: ")
		b.WriteString(strings.Join(topics, ", "))
		b.WriteString(".")
	}
	if len(parts) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.Join(parts, " "))
	}
	return b.String()
}
