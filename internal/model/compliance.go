package model

import "time"

type RuleType string

const (
	RuleTimeRestriction RuleType = "time_restriction"
	RuleOddEven         RuleType = "odd_even"
	RuleWeightLimit     RuleType = "weight_limit"
	RulePollution       RuleType = "pollution"
	RuleZoneRestriction RuleType = "zone_restriction"
	RulePermit          RuleType = "permit"
)

type Violation struct {
	RuleID     string   `json:"ruleId"`
	RuleType   RuleType `json:"ruleType"`
	DeliveryID string   `json:"deliveryId,omitempty"`
	StopSeq    int      `json:"stopSequence,omitempty"`
	ZoneID     string   `json:"zoneId,omitempty"`
	Message    string   `json:"message"`
}

type ComplianceWarning struct {
	RuleID   string   `json:"ruleId,omitempty"`
	RuleType RuleType `json:"ruleType"`
	Message  string   `json:"message"`
	Penalty  float64  `json:"penalty,omitempty"`
}

type Exemption struct {
	RuleID   string   `json:"ruleId,omitempty"`
	RuleType RuleType `json:"ruleType"`
	Reason   string   `json:"reason"`
}

type AlternativeOption struct {
	RuleID      string      `json:"ruleId,omitempty"`
	VehicleType VehicleType `json:"vehicleType,omitempty"`
	Window      ClockRange  `json:"window,omitempty"`
	Description string      `json:"description"`
}

// ComplianceResult is the evaluator's verdict for one vehicle over a set of stops.
// Violations exclude the assignment; warnings only add Penalty to the objective.
// Expected non-compliance is reported here, never as an error.
type ComplianceResult struct {
	IsCompliant        bool                `json:"isCompliant"`
	Violations         []Violation         `json:"violations,omitempty"`
	Warnings           []ComplianceWarning `json:"warnings,omitempty"`
	Exemptions         []Exemption         `json:"exemptions,omitempty"`
	SuggestedActions   []string            `json:"suggestedActions,omitempty"`
	AlternativeOptions []AlternativeOption `json:"alternativeOptions,omitempty"`
	Penalty            float64             `json:"penalty"`
	CheckedAt          time.Time           `json:"checkedAt"`
}

func (c ComplianceResult) Clone() ComplianceResult {
	out := c
	out.Violations = append([]Violation(nil), c.Violations...)
	out.Warnings = append([]ComplianceWarning(nil), c.Warnings...)
	out.Exemptions = append([]Exemption(nil), c.Exemptions...)
	out.SuggestedActions = append([]string(nil), c.SuggestedActions...)
	out.AlternativeOptions = append([]AlternativeOption(nil), c.AlternativeOptions...)
	return out
}
