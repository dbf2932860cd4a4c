// Package intel defines the structured intelligence result produced by
// an analysis run, and the parser that coerces model output into it.
package intel

// DefaultHealthScore is used when the model's final answer could not
// be parsed into a structured result.
const DefaultHealthScore = 5

// Intelligence is the structured result of one analysis. Company and
// contact runs populate the scalar and list fields; deal runs must
// additionally carry the stakeholder map and timeline.
type Intelligence struct {
	HealthScore        float64  `json:"healthScore"`
	Insights           []string `json:"insights"`
	RiskFactors        []string `json:"riskFactors"`
	OpportunitySignals []string `json:"opportunitySignals"`
	RecommendedActions []string `json:"recommendedActions"`

	Stakeholders []Stakeholder   `json:"stakeholders,omitempty"`
	Timeline     []TimelineEvent `json:"timeline,omitempty"`

	// ParseError marks a degraded result: the model's final text held
	// no recognizable JSON, so RawText preserves it and HealthScore is
	// the default. Callers are explicitly informed rather than failed.
	ParseError bool   `json:"parseError,omitempty"`
	RawText    string `json:"rawText,omitempty"`
}

// Stakeholder is one person attached to a deal.
type Stakeholder struct {
	Name            string   `json:"name"`
	Title           string   `json:"title,omitempty"`
	DecisionRole    string   `json:"decisionRole,omitempty"`
	Influence       string   `json:"influence,omitempty"`
	Interests       []string `json:"interests,omitempty"`
	PainPoints      []string `json:"painPoints,omitempty"`
	EngagementLevel string   `json:"engagementLevel,omitempty"`
	Sentiment       string   `json:"sentiment,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// TimelineEvent is one dated entry in a deal's history.
type TimelineEvent struct {
	Date         string `json:"date"`
	Event        string `json:"event"`
	Significance string `json:"significance,omitempty"`
}
