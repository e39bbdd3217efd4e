package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

var (
	cvePattern   = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)
	cnvdPattern  = regexp.MustCompile(`(?i)CNVD-\d{4}-\d{5,6}`)
	cnnvdPattern = regexp.MustCompile(`(?i)CNNVD-\d{6}-\d{5,6}`)
	// The captured score is kept as raw text; no range check is applied.
	cvssPattern = regexp.MustCompile(`(?i)CVSS[:\s]+(\d+\.?\d*)`)
)

// severityTerms is matched by exact, case-sensitive containment.
var severityTerms = []string{"严重", "高危", "中危", "低危", "Critical", "High", "Medium", "Low"}

// ExtractVulnerabilityInfo scans text for CVE/CNVD/CNNVD identifiers, CVSS
// scores, and severity terms. Identifier and score sets are deduplicated and
// sorted; severity terms keep vocabulary order.
func ExtractVulnerabilityInfo(text string) monitor.VulnerabilityInfo {
	info := monitor.VulnerabilityInfo{
		CVEIDs:     uniqueSorted(cvePattern.FindAllString(text, -1)),
		CNVDIDs:    uniqueSorted(cnvdPattern.FindAllString(text, -1)),
		CNNVDIDs:   uniqueSorted(cnnvdPattern.FindAllString(text, -1)),
		CVSSScores: uniqueSorted(captures(cvssPattern, text)),
	}
	for _, term := range severityTerms {
		if strings.Contains(text, term) {
			info.SeverityLevels = append(info.SeverityLevels, term)
		}
	}
	return info
}

func captures(re *regexp.Regexp, text string) []string {
	matches := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func uniqueSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
