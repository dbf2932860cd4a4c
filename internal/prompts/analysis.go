package prompts

import (
	"fmt"
	"strings"
)

// sharedPreamble is common to all entity types. Individual prompts
// append their entity-specific instructions.
const sharedPreamble = `You are a sales intelligence analyst. You investigate CRM entities using the tools provided and produce a structured assessment.

Work iteratively: query the knowledge base, pull CRM records, and check public sources as needed. When you have enough context, call the finish_analysis tool. Never invent facts — if a tool returns an error or no data, note the gap and move on.`

// dealSystemPrompt drives deal analyses. The stakeholder map and
// timeline are mandatory sections, not enrichments.
const dealSystemPrompt = sharedPreamble + `

You are analyzing a DEAL. Assess its health and close likelihood. Your final result MUST always include:
- a stakeholder map: every person attached to the deal with name, title, decision role, influence, interests, pain points, engagement level, sentiment, and notes
- a chronological timeline of dated events with a significance tag for each
- insights, risk factors, opportunity signals, and recommended next actions
- a health score from 0 (dead) to 10 (certain to close)`

// companySystemPrompt drives company analyses.
const companySystemPrompt = sharedPreamble + `

You are analyzing a COMPANY. Assess the overall account relationship: engagement across open and past deals, expansion potential, and churn risk. Produce insights, risk factors, opportunity signals, recommended actions, and an engagement score from 0 to 10.`

// contactSystemPrompt drives contact analyses.
const contactSystemPrompt = sharedPreamble + `

You are analyzing a CONTACT. Assess the relationship with this person: responsiveness, influence within their organization, and buying signals. Produce insights, risk factors, opportunity signals, recommended actions, and an engagement score from 0 to 10.`

// SystemPrompt returns the hardcoded system prompt for an entity type.
// Unknown types get the deal prompt's shared preamble so a run can
// always start.
func SystemPrompt(entityType string) string {
	switch entityType {
	case "deal":
		return dealSystemPrompt
	case "company":
		return companySystemPrompt
	case "contact":
		return contactSystemPrompt
	default:
		return sharedPreamble
	}
}

// AnalysisRequest builds the initial user turn: entity identity plus
// the CRM snapshot the runner resolved before starting the loop.
func AnalysisRequest(entityType, entityName, snapshot string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze this %s: %s\n\n", entityType, entityName)
	sb.WriteString("Current CRM snapshot:\n")
	sb.WriteString(snapshot)
	sb.WriteString("\n\nInvestigate using your tools, then call finish_analysis when ready.")
	return sb.String()
}

// dealResultSchema is the JSON shape demanded in the final call for
// deal analyses.
const dealResultSchema = `{
  "healthScore": <number 0-10>,
  "insights": ["..."],
  "riskFactors": ["..."],
  "opportunitySignals": ["..."],
  "recommendedActions": ["..."],
  "stakeholders": [
    {
      "name": "...",
      "title": "...",
      "decisionRole": "decision-maker|influencer|champion|blocker|end-user|unknown",
      "influence": "high|medium|low",
      "interests": ["..."],
      "painPoints": ["..."],
      "engagementLevel": "high|medium|low",
      "sentiment": "positive|neutral|negative",
      "notes": "..."
    }
  ],
  "timeline": [
    {"date": "YYYY-MM-DD", "event": "...", "significance": "high|medium|low"}
  ]
}`

// genericResultSchema is the JSON shape for company and contact analyses.
const genericResultSchema = `{
  "healthScore": <number 0-10>,
  "insights": ["..."],
  "riskFactors": ["..."],
  "opportunitySignals": ["..."],
  "recommendedActions": ["..."]
}`

// FinalJSONRequest builds the dedicated final turn issued after the
// finish tool fires. It demands only the structured JSON answer.
// Requiring the schema on every turn would bias intermediate reasoning,
// so it is supplied exactly once, here.
func FinalJSONRequest(entityType string) string {
	schema := genericResultSchema
	if entityType == "deal" {
		schema = dealResultSchema
	}
	return fmt.Sprintf(`Produce your final analysis now. Respond with ONLY a JSON object matching this shape, no prose before or after:

%s

Every list may be empty but must be present. Base everything on what your tools returned.`, schema)
}
