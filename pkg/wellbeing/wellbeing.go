// Copyright 2025 Keepsake AI
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wellbeing screens user input for safety concerns and scam
// attempts before the reasoning loop touches it.
//
// Detection is deliberately rule-based: static keyword and phrase tables
// with fixed weights, no model in the loop. A screening layer that can
// hallucinate is worse than one that is merely incomplete.
package wellbeing

import (
	"time"
)

// Severity buckets an evidence score.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders buckets for max comparisons.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityModerate:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// bucketScore maps an evidence score to a severity bucket.
func bucketScore(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.5:
		return SeverityModerate
	case score >= 0.3:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// ConcernType identifies a wellbeing risk category.
type ConcernType string

const (
	ConcernLoneliness            ConcernType = "LONELINESS"
	ConcernDepression            ConcernType = "DEPRESSION"
	ConcernSelfHarm              ConcernType = "SELF_HARM"
	ConcernSuicidalIdeation      ConcernType = "SUICIDAL_IDEATION"
	ConcernCognitiveDecline      ConcernType = "COGNITIVE_DECLINE"
	ConcernDisorientation        ConcernType = "DISORIENTATION"
	ConcernMedicalEmergency      ConcernType = "MEDICAL_EMERGENCY"
	ConcernSubstanceAbuse        ConcernType = "SUBSTANCE_ABUSE"
	ConcernAbuse                 ConcernType = "ABUSE"
	ConcernFinancialExploitation ConcernType = "FINANCIAL_EXPLOITATION"
	ConcernFallRisk              ConcernType = "FALL_RISK"
	ConcernDistress              ConcernType = "DISTRESS"
)

// ScamType identifies a scam pattern family.
type ScamType string

const (
	ScamMoneyRequest            ScamType = "MONEY_REQUEST"
	ScamGovernmentImpersonation ScamType = "GOVERNMENT_IMPERSONATION"
	ScamTechSupport             ScamType = "TECH_SUPPORT"
	ScamRomance                 ScamType = "ROMANCE"
	ScamLottery                 ScamType = "LOTTERY"
	ScamGrandparent             ScamType = "GRANDPARENT"
	ScamMedicare                ScamType = "MEDICARE"
	ScamInvestment              ScamType = "INVESTMENT"
	ScamCharity                 ScamType = "CHARITY"
	ScamPhishing                ScamType = "PHISHING"
)

// Emotion is an externally detected emotional signal (from tone analysis
// or the conversation layer) correlated against concern categories.
type Emotion string

const (
	EmotionLoneliness Emotion = "LONELINESS"
	EmotionSadness    Emotion = "SADNESS"
	EmotionFear       Emotion = "FEAR"
	EmotionConfusion  Emotion = "CONFUSION"
	EmotionAnger      Emotion = "ANGER"
)

// ResponseType tells the runner how to answer.
type ResponseType string

const (
	ResponseEmergency     ResponseType = "EMERGENCY"
	ResponseEscalate      ResponseType = "ESCALATE"
	ResponseSuggestCare   ResponseType = "SUGGEST_CONTACT"
	ResponseEncourageHelp ResponseType = "ENCOURAGE_HELP"
	ResponseComfort       ResponseType = "COMFORT"
	ResponseSupportive    ResponseType = "SUPPORTIVE"
)

// ActionType is a recommended follow-up.
type ActionType string

const (
	ActionLog                   ActionType = "LOG"
	ActionCallEmergency         ActionType = "CALL_EMERGENCY"
	ActionNotifyCaregiver       ActionType = "NOTIFY_CAREGIVER"
	ActionNotifyFamily          ActionType = "NOTIFY_FAMILY"
	ActionRecommendProfessional ActionType = "RECOMMEND_PROFESSIONAL"
	ActionScheduleFollowup      ActionType = "SCHEDULE_FOLLOWUP"
	ActionProvideResources      ActionType = "PROVIDE_RESOURCES"
)

// RecommendedAction is one prioritized follow-up; priority 1 is most
// urgent.
type RecommendedAction struct {
	Type            ActionType `json:"type"`
	Priority        int        `json:"priority"`
	RequiresConsent bool       `json:"requires_consent"`
}

// DetectedConcern is one concern that cleared the confidence floor.
type DetectedConcern struct {
	Type      ConcernType `json:"type"`
	Score     float64     `json:"score"`
	Severity  Severity    `json:"severity"`
	Evidence  []string    `json:"evidence"`
	Recurring bool        `json:"recurring"`
}

// ScamAlert is one matched scam pattern.
type ScamAlert struct {
	Type              ScamType `json:"type"`
	Score             float64  `json:"score"`
	Severity          Severity `json:"severity"`
	Evidence          []string `json:"evidence"`
	SuggestedResponse string   `json:"suggested_response"`
}

// Assessment is the result of screening one input.
type Assessment struct {
	ID                string              `json:"id"`
	Timestamp         time.Time           `json:"timestamp"`
	Risk              Severity            `json:"risk"`
	ResponseType      ResponseType        `json:"response_type"`
	Concerns          []DetectedConcern   `json:"concerns,omitempty"`
	Scams             []ScamAlert         `json:"scams,omitempty"`
	SuggestedResponse string              `json:"suggested_response,omitempty"`
	Actions           []RecommendedAction `json:"actions"`

	// RequiresImmediateAction is set at CRITICAL risk; the caller must
	// not wait for the end of the conversation.
	RequiresImmediateAction bool `json:"requires_immediate_action"`

	// Confidence is the strongest detection score, capped at 1.
	Confidence float64 `json:"confidence"`

	// Justification names the detections behind the risk level.
	Justification string `json:"justification,omitempty"`
}

// ShortCircuits reports whether the runner should answer with the
// suggested response instead of reasoning.
func (a Assessment) ShortCircuits() bool {
	return severityRank(a.Risk) >= severityRank(SeverityHigh)
}
