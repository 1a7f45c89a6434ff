package domain

import "time"

// RiskRule is an operator-defined heuristic expressed in CEL. When the
// expression evaluates truthy against the assessment context, the rule's
// weight is added to the risk score and its reason appended after the
// built-in flag reasons.
type RiskRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Expression  string    `json:"expression"`
	Weight      float64   `json:"weight"`
	Reason      string    `json:"reason"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RuleHit is the outcome of one custom rule firing during an assessment.
type RuleHit struct {
	RuleID string  `json:"ruleId"`
	Weight float64 `json:"weight"`
	Reason string  `json:"reason"`
}
