// Package prompts contains all LLM prompt templates used by the
// intelligence agent.
//
// Keeping prompt text here, away from the loop mechanics, makes it
// reviewable in one place and keeps the agent package free of long
// string literals. Entity-specific system prompts can be overridden at
// runtime through the profile store; the constants in this package are
// the hardcoded fallbacks that keep a run startable when the store is
// unreachable.
package prompts
