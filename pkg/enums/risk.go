package enums

import "fmt"

// RiskLevel buckets a fraud score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

var validRiskLevels = []RiskLevel{
	RiskLevelLow,
	RiskLevelMedium,
	RiskLevelHigh,
}

// String implements fmt.Stringer.
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RiskLevel.
func (r RiskLevel) IsValid() bool {
	for _, candidate := range validRiskLevels {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskLevel converts raw input into a RiskLevel.
func ParseRiskLevel(value string) (RiskLevel, error) {
	for _, candidate := range validRiskLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk level %q", value)
}

// RiskRecommendation is the scorer's suggested action.
type RiskRecommendation string

const (
	RecommendAllow RiskRecommendation = "allow"
	RecommendFlag  RiskRecommendation = "flag"
	RecommendBlock RiskRecommendation = "block"
)

var validRiskRecommendations = []RiskRecommendation{
	RecommendAllow,
	RecommendFlag,
	RecommendBlock,
}

// String implements fmt.Stringer.
func (r RiskRecommendation) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RiskRecommendation.
func (r RiskRecommendation) IsValid() bool {
	for _, candidate := range validRiskRecommendations {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRiskRecommendation converts raw input into a RiskRecommendation.
func ParseRiskRecommendation(value string) (RiskRecommendation, error) {
	for _, candidate := range validRiskRecommendations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid risk recommendation %q", value)
}
