package scout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/masfro/masfro/pkg/hazard"
)

func TestClassifyTextVerdicts(t *testing.T) {
	cases := []struct {
		text     string
		wantType hazard.ReportType
		flood    bool
	}{
		{"need rescue, family trapped on roof", hazard.ReportEvacuation, true},
		{"chest deep flood on tumana bridge", hazard.ReportFlooding, true},
		{"baha sa sumulong highway", hazard.ReportFlooding, true},
		{"road closed, hindi madaanan", hazard.ReportBlocked, true},
		{"fallen tree and live wire on the road", hazard.ReportHazard, true},
		{"heavy traffic along marcos highway", hazard.ReportTraffic, false},
		{"all clear here, streets are dry", hazard.ReportClear, false},
	}

	for _, tc := range cases {
		cls := ClassifyText(tc.text)
		assert.Equal(t, tc.wantType, cls.ReportType, tc.text)
		assert.Equal(t, tc.flood, cls.IsFloodRelated, tc.text)
		assert.Equal(t, 0.6, cls.Confidence, tc.text)
	}
}

func TestClassifyTextUnmatched(t *testing.T) {
	cls := ClassifyText("magandang umaga po")
	assert.Equal(t, hazard.ReportClear, cls.ReportType)
	assert.False(t, cls.IsFloodRelated)
	assert.Zero(t, cls.Severity)
	assert.Equal(t, 0.3, cls.Confidence)
}

func TestClassifyTextSeverityBoosts(t *testing.T) {
	base := ClassifyText("flooding on the street")
	assert.Equal(t, 0.6, base.Severity)

	boosted := ClassifyText("flooding on the street, knee deep and rising")
	assert.InDelta(t, 0.8, boosted.Severity, 1e-9)

	// Severity saturates at 1.
	extreme := ClassifyText("deep flood, chest level, rising fast, emergency, malalim")
	assert.Equal(t, 1.0, extreme.Severity)
}

func TestClassifyTextCaseInsensitive(t *testing.T) {
	a := ClassifyText("BAHA SA KANTO")
	b := ClassifyText("baha sa kanto")
	assert.Equal(t, b, a)
}

func TestClassifyTextFirstRuleWins(t *testing.T) {
	// Mentions both evacuation and flooding; the more severe rule is
	// ordered first.
	cls := ClassifyText("evacuate now, flood is waist deep")
	assert.Equal(t, hazard.ReportEvacuation, cls.ReportType)
	assert.Equal(t, 1.0, cls.Severity)
}
