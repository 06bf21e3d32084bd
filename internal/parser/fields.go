package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/tender-ingest/internal/textnorm"
)

const (
	titleMaxLen       = 200
	descriptionMaxLen = 1000
	titleScanLines    = 15
	defaultLocation   = "Burkina Faso"
	noticeType        = "appel_offres"
)

var titleKeywords = []string{
	"Acquisition", "Travaux", "Fourniture", "Construction",
	"Réhabilitation", "Aménagement", "Installation",
}

const dateExpr = `\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}`

const monthExpr = `janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[ûu]t|septembre|octobre|novembre|d[ée]cembre`

var (
	deadlinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:au plus tard |jusqu'au |limite |avant )?le\s+(` + dateExpr + `)`),
		regexp.MustCompile(`(?i)(` + dateExpr + `)\s+à\s+\d{1,2}[h:]\d{2}`),
		regexp.MustCompile(`(?i)(?:deadline|échéance|date limite)[^\n]*?(` + dateExpr + `)`),
		regexp.MustCompile(`(?i)(\d{1,2}\s+(?:` + monthExpr + `)\s+\d{4})`),
	}
	budgetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d[\d\s.]{6,}?)\s*(?:F\.?\s?CFA|francs?)`),
		regexp.MustCompile(`(?i)Budget[^:\n]*:\s*(\d[\d\s.]{6,})`),
		regexp.MustCompile(`(?i)Montant[^:\n]*:\s*(\d[\d\s.]{6,})`),
	}
	categoryRules = []struct {
		pattern  *regexp.Regexp
		category string
	}{
		{regexp.MustCompile(`(?i)travaux|construction|r[ée]habilitation|am[ée]nagement`), "Travaux"},
		{regexp.MustCompile(`(?i)fourniture|acquisition|achat|[ée]quipement|licence`), "Fournitures"},
		{regexp.MustCompile(`(?i)service|prestation|consultation|[ée]tude`), "Services"},
		{regexp.MustCompile(`(?i)manifestation\s+d.int[ée]r[êe]t`), "Prestations intellectuelles"},
	}
	locationPattern  = regexp.MustCompile(`(?i)\b(?:Ouagadougou|Bobo-Dioulasso|Koudougou|Banfora|Ouahigouya|Kaya|Tenkodogo|Fada N.Gourma|D[ée]dougou|Dori|Gaoua|Ziniar[ée]|Burkina Faso)`)
	referencePattern = regexp.MustCompile(`N[°o]\s*(\d{4}[-–]\d+[^\s]*)`)
	numericDate      = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})$`)
	textualDate      = regexp.MustCompile(`(?i)^(\d{1,2})\s+(` + monthExpr + `)\s+(\d{4})$`)
	isoDate          = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	titleDate        = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
)

var frenchMonths = map[string]time.Month{
	"janvier": time.January, "fevrier": time.February, "mars": time.March,
	"avril": time.April, "mai": time.May, "juin": time.June,
	"juillet": time.July, "aout": time.August, "septembre": time.September,
	"octobre": time.October, "novembre": time.November, "decembre": time.December,
}

// extractTitle returns the first of the leading lines naming a purchase, else the first line
// long enough to be a sentence.
func extractTitle(lines []string) string {
	limit := min(len(lines), titleScanLines)
	for _, line := range lines[:limit] {
		for _, kw := range titleKeywords {
			if strings.Contains(line, kw) {
				return textnorm.Truncate(strings.TrimSpace(strings.ReplaceAll(line, ":", "")), titleMaxLen)
			}
		}
	}
	for _, line := range lines {
		if len([]rune(line)) > 20 {
			return textnorm.Truncate(line, titleMaxLen)
		}
	}
	return ""
}

func extractDeadline(text string) string {
	for _, re := range deadlinePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return NormalizeDate(m[1])
		}
	}
	return ""
}

func extractBudget(text string) string {
	for _, re := range budgetPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return textnorm.CollapseSpace(m[1])
		}
	}
	return ""
}

func extractCategory(text string) string {
	for _, rule := range categoryRules {
		if rule.pattern.MatchString(text) {
			return rule.category
		}
	}
	return "Non spécifié"
}

func extractLocation(text string) string {
	if m := locationPattern.FindString(text); m != "" {
		return m
	}
	return defaultLocation
}

func extractReference(text string) string {
	if m := referencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimRight(m[1], ".,;:")
	}
	return ""
}

// NormalizeDate converts dd/mm/yyyy, dd-mm-yy and "12 février 2025" forms to YYYY-MM-DD.
// Values it cannot parse are returned trimmed but otherwise unchanged.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if isoDate.MatchString(s) {
		return s
	}
	if m := numericDate.FindStringSubmatch(s); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return isoOrRaw(s, year, m[2], m[1])
	}
	if m := textualDate.FindStringSubmatch(s); m != nil {
		month, ok := frenchMonths[textnorm.Fold(m[2])]
		if !ok {
			return s
		}
		return isoOrRaw(s, m[3], fmt.Sprint(int(month)), m[1])
	}
	return s
}

func isoOrRaw(raw, year, month, day string) string {
	t, err := time.Parse("2006-1-2", year+"-"+month+"-"+day)
	if err != nil {
		return raw
	}
	return t.Format("2006-01-02")
}

// publishedFromTitle reads the bulletin date from titles such as
// "Quotidien N°4012 du lundi 03/02/2025".
func publishedFromTitle(title string) string {
	m := titleDate.FindString(title)
	if m == "" {
		return ""
	}
	d := NormalizeDate(m)
	if !isoDate.MatchString(d) {
		return ""
	}
	return d
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			out = append(out, t)
		}
	}
	return out
}
