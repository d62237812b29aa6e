// Package scout turns raw crowdsourced text into classified reports and
// geocodes place mentions against a preloaded gazetteer. The rule-based
// paths here are the always-available fallback behind the LLM seam.
package scout

import (
	"strings"

	"github.com/masfro/masfro/pkg/hazard"
)

// keywordRule scores one report type by its trigger terms.
type keywordRule struct {
	reportType hazard.ReportType
	flood      bool
	severity   float64
	terms      []string
}

// Order matters: first matching rule wins, so the most specific and
// severe phrasings sit on top.
var rules = []keywordRule{
	{hazard.ReportEvacuation, true, 0.9, []string{"evacuate", "evacuation", "rescue", "trapped", "stranded"}},
	{hazard.ReportFlooding, true, 0.8, []string{"deep flood", "waist", "chest", "neck deep", "baha na malalim"}},
	{hazard.ReportFlooding, true, 0.6, []string{"flood", "flooded", "flooding", "baha", "bumabaha", "overflow", "umapaw"}},
	{hazard.ReportBlocked, true, 0.7, []string{"impassable", "not passable", "blocked", "closed road", "hindi madaanan", "landslide"}},
	{hazard.ReportHazard, true, 0.5, []string{"fallen tree", "debris", "live wire", "nakalubog", "submerged"}},
	{hazard.ReportTraffic, false, 0.3, []string{"traffic", "gridlock", "stuck", "standstill", "matrapik"}},
	{hazard.ReportClear, false, 0.0, []string{"clear", "passable", "no flood", "walang baha", "dry"}},
}

// severityBoosts raise severity when depth-like qualifiers appear.
var severityBoosts = map[string]float64{
	"knee":      0.1,
	"waist":     0.2,
	"chest":     0.3,
	"rising":    0.1,
	"fast":      0.1,
	"malalim":   0.2,
	"mabilis":   0.1,
	"emergency": 0.2,
}

// ClassifyText classifies free text by keyword rules. Deterministic, no
// state: the same text always yields the same verdict.
func ClassifyText(text string) hazard.Classification {
	t := strings.ToLower(text)

	for _, rule := range rules {
		for _, term := range rule.terms {
			if !strings.Contains(t, term) {
				continue
			}

			cls := hazard.Classification{
				IsFloodRelated: rule.flood,
				ReportType:     rule.reportType,
				Severity:       rule.severity,
				// Keyword hits are decent signal but far from a human
				// or model read of the full report.
				Confidence: 0.6,
			}
			for boost, delta := range severityBoosts {
				if strings.Contains(t, boost) {
					cls.Severity += delta
				}
			}
			if cls.Severity > 1 {
				cls.Severity = 1
			}
			return cls
		}
	}

	return hazard.Classification{
		IsFloodRelated: false,
		ReportType:     hazard.ReportClear,
		Severity:       0,
		Confidence:     0.3,
	}
}
