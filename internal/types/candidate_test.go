package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidatePayloadUnmarshalLooseTypes(t *testing.T) {
	raw := `{
		"full_name": "  Jane Doe ",
		"emails": ["Jane@Example.com", "jane@example.com", ""],
		"phones": ["+1 555 0100"],
		"total_experience_years": "7.5 years",
		"current_salary": 120000,
		"expected_salary": null,
		"education": [{"degree": "BSc", "institution": "MIT", "graduation_year": 2015}],
		"experience": [{"job_title": "Engineer", "achievements": ["shipped X", "led Y"]}],
		"skills": ["Go", "go", "SQL"],
		"languages": ["English", {"language": "French", "proficiency": "B2"}, "english"],
		"confidence": 77
	}`

	var p CandidatePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	p.Normalize()

	assert.Equal(t, "Jane Doe", p.FullName)
	assert.Equal(t, []string{"Jane@Example.com"}, p.Emails)
	require.NotNil(t, p.TotalExperienceYears)
	assert.InDelta(t, 7.5, float64(*p.TotalExperienceYears), 0.001)
	assert.Equal(t, "120000", p.CurrentSalary.String())
	assert.Equal(t, "", p.ExpectedSalary.String())
	assert.Equal(t, "2015", p.Education[0].GraduationYear.String())
	assert.Equal(t, "shipped X\nled Y", p.Experience[0].Achievements.String())
	assert.Equal(t, []string{"Go", "SQL"}, p.Skills)
	require.Len(t, p.Languages, 2)
	assert.Equal(t, LanguageEntry{Language: "French", Proficiency: "B2"}, p.Languages[1])
	require.NotNil(t, p.Confidence)
	assert.Equal(t, 77.0, *p.Confidence.Float64Ptr())
}

func TestFlexFloatLenientStrings(t *testing.T) {
	cases := map[string]*float64{
		`""`:              nil,
		`"N/A"`:           nil,
		`"Not specified"`: nil,
		`"many"`:          nil,
		`"85%"`:           ptr(85),
		`"10+ years"`:     ptr(10),
		`3`:               ptr(3),
	}
	for raw, want := range cases {
		var f FlexFloat
		require.NoError(t, json.Unmarshal([]byte(raw), &f), raw)
		if want == nil {
			assert.Nil(t, f.Float64Ptr(), raw)
			continue
		}
		require.NotNil(t, f.Float64Ptr(), raw)
		assert.InDelta(t, *want, *f.Float64Ptr(), 0.001, raw)
	}
	assert.Error(t, json.Unmarshal([]byte(`{}`), new(FlexFloat)))
}

func TestCandidatePayloadBlankNumericFieldsBecomeNil(t *testing.T) {
	raw := `{"full_name":"Jane Doe","total_experience_years":"","confidence":"Not specified"}`

	var p CandidatePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	p.Normalize()

	assert.Nil(t, p.TotalExperienceYears)
	assert.Nil(t, p.Confidence)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"total_experience_years":null`)
}

func ptr(v float64) *float64 { return &v }

func TestFlexFloatNilPtr(t *testing.T) {
	var f *FlexFloat
	assert.Nil(t, f.Float64Ptr())
}
