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

package wellbeing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMinConfidence       = 0.4
	defaultRecurrenceThreshold = 3

	// scamThreshold triggers a scam warning.
	scamThreshold = 0.4

	maxRecurrenceEntries = 10
	maxAssessmentLog     = 100
	trimmedAssessmentLog = 50
)

// Config tunes the guard; zero values take the defaults above.
type Config struct {
	MinConfidence       float64
	RecurrenceThreshold int
}

// Guard screens input text for wellbeing concerns and scam patterns.
// Safe for concurrent use across runs.
type Guard struct {
	minConfidence       float64
	recurrenceThreshold int

	mu         sync.Mutex
	recurrence map[ConcernType][]time.Time
	log        []Assessment

	logger *slog.Logger
}

func NewGuard(cfg Config) *Guard {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.RecurrenceThreshold <= 0 {
		cfg.RecurrenceThreshold = defaultRecurrenceThreshold
	}
	return &Guard{
		minConfidence:       cfg.MinConfidence,
		recurrenceThreshold: cfg.RecurrenceThreshold,
		recurrence:          make(map[ConcernType][]time.Time),
		logger:              slog.Default().With("component", "wellbeing"),
	}
}

// Assess screens one input. emotions are optional external signals from
// the conversation layer.
func (g *Guard) Assess(ctx context.Context, input string, emotions []Emotion) Assessment {
	lower := strings.ToLower(input)
	words := tokenize(lower)

	var concerns []DetectedConcern
	var scams []ScamAlert

	// The two table scans are independent; run them in parallel.
	eg, _ := errgroup.WithContext(ctx)
	eg.Go(func() error {
		concerns = scanConcerns(lower, words, emotions, g.minConfidence)
		return nil
	})
	eg.Go(func() error {
		scams = scanScams(lower, words)
		return nil
	})
	_ = eg.Wait()

	g.markRecurring(concerns)

	assessment := Assessment{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Concerns:  concerns,
		Scams:     scams,
	}
	assessment.Risk = overallRisk(concerns, scams)
	assessment.ResponseType = responseTypeFor(assessment.Risk, concerns)
	assessment.SuggestedResponse = suggestedResponse(assessment.ResponseType, concerns, scams)
	assessment.Actions = recommendedActions(assessment.Risk)
	assessment.RequiresImmediateAction = assessment.Risk == SeverityCritical
	assessment.Confidence = overallConfidence(concerns, scams)
	assessment.Justification = justification(concerns, scams)

	g.appendAssessment(assessment)

	if assessment.Risk != SeverityNone {
		g.logger.Info("wellbeing concern detected",
			"risk", string(assessment.Risk),
			"concerns", len(concerns),
			"scams", len(scams))
	}
	return assessment
}

func tokenize(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func scanConcerns(lower string, words map[string]struct{}, emotions []Emotion, minConfidence float64) []DetectedConcern {
	emotionSet := make(map[Emotion]struct{}, len(emotions))
	for _, e := range emotions {
		emotionSet[e] = struct{}{}
	}

	var out []DetectedConcern
	for _, def := range concernTable {
		score, evidence := scoreEntry(lower, words, def.Keywords, def.Phrases, def.Weight)
		if def.Emotion != "" {
			if _, ok := emotionSet[def.Emotion]; ok && len(evidence) > 0 {
				score += emotionBonus
			}
		}
		if len(evidence) == 0 || score < minConfidence {
			continue
		}
		out = append(out, DetectedConcern{
			Type:     def.Type,
			Score:    score,
			Severity: bucketScore(score),
			Evidence: evidence,
		})
	}
	return out
}

func scanScams(lower string, words map[string]struct{}) []ScamAlert {
	var out []ScamAlert
	for _, def := range scamTable {
		score, evidence := scoreEntry(lower, words, def.Keywords, def.Phrases, def.Weight)
		if len(evidence) == 0 || score < scamThreshold {
			continue
		}
		out = append(out, ScamAlert{
			Type:              def.Type,
			Score:             score,
			Severity:          def.Severity,
			Evidence:          evidence,
			SuggestedResponse: def.Response,
		})
	}
	return out
}

// scoreEntry sums keyword and phrase hits under the entry weight.
// Keywords match whole tokens; phrases match substrings.
func scoreEntry(lower string, words map[string]struct{}, keywords, phrases []string, weight float64) (float64, []string) {
	var raw float64
	var evidence []string

	for _, kw := range keywords {
		if _, ok := words[kw]; ok {
			raw += keywordWeight
			evidence = append(evidence, kw)
		}
	}
	for _, ph := range phrases {
		if strings.Contains(lower, ph) {
			raw += phraseWeight
			evidence = append(evidence, ph)
		}
	}
	return raw * weight, evidence
}

func overallRisk(concerns []DetectedConcern, scams []ScamAlert) Severity {
	risk := SeverityNone
	for _, c := range concerns {
		if isCriticalOverride(c.Type) {
			return SeverityCritical
		}
		if severityRank(c.Severity) > severityRank(risk) {
			risk = c.Severity
		}
	}
	for _, s := range scams {
		if severityRank(s.Severity) > severityRank(risk) {
			risk = s.Severity
		}
	}
	return risk
}

// overallConfidence is the strongest single detection score, capped at 1.
func overallConfidence(concerns []DetectedConcern, scams []ScamAlert) float64 {
	best := 0.0
	for _, c := range concerns {
		if c.Score > best {
			best = c.Score
		}
	}
	for _, s := range scams {
		if s.Score > best {
			best = s.Score
		}
	}
	if best > 1 {
		best = 1
	}
	return best
}

// justification names the detections behind the risk level, strongest
// first within each table.
func justification(concerns []DetectedConcern, scams []ScamAlert) string {
	var parts []string
	for _, c := range concerns {
		parts = append(parts, fmt.Sprintf("%s concern (score %.2f)", strings.ToLower(string(c.Type)), c.Score))
	}
	for _, s := range scams {
		parts = append(parts, fmt.Sprintf("%s scam pattern (score %.2f)", strings.ToLower(string(s.Type)), s.Score))
	}
	return strings.Join(parts, "; ")
}

func isCriticalOverride(t ConcernType) bool {
	for _, def := range concernTable {
		if def.Type == t {
			return def.CriticalOverride
		}
	}
	return false
}

func responseTypeFor(risk Severity, concerns []DetectedConcern) ResponseType {
	switch risk {
	case SeverityCritical:
		if hasConcern(concerns, ConcernSuicidalIdeation) || hasConcern(concerns, ConcernMedicalEmergency) {
			return ResponseEmergency
		}
		return ResponseEscalate
	case SeverityHigh:
		return ResponseSuggestCare
	case SeverityModerate:
		return ResponseEncourageHelp
	case SeverityLow:
		return ResponseComfort
	default:
		return ResponseSupportive
	}
}

func hasConcern(concerns []DetectedConcern, t ConcernType) bool {
	for _, c := range concerns {
		if c.Type == t {
			return true
		}
	}
	return false
}

func suggestedResponse(rt ResponseType, concerns []DetectedConcern, scams []ScamAlert) string {
	var b strings.Builder

	switch {
	case rt == ResponseEmergency && hasConcern(concerns, ConcernSuicidalIdeation):
		b.WriteString(emergencySuicidalResponse)
	case rt == ResponseEmergency:
		b.WriteString(emergencyMedicalResponse)
	default:
		b.WriteString(responseTemplates[rt])
	}

	// Scam guidance rides along whatever the concern level is.
	for _, s := range scams {
		b.WriteString(" ")
		b.WriteString(s.SuggestedResponse)
	}
	return b.String()
}

func recommendedActions(risk Severity) []RecommendedAction {
	actions := []RecommendedAction{
		{Type: ActionLog, Priority: 3},
	}
	switch risk {
	case SeverityCritical:
		actions = append(actions,
			RecommendedAction{Type: ActionCallEmergency, Priority: 1},
			RecommendedAction{Type: ActionNotifyCaregiver, Priority: 1},
		)
	case SeverityHigh:
		actions = append(actions,
			RecommendedAction{Type: ActionNotifyFamily, Priority: 2, RequiresConsent: true},
			RecommendedAction{Type: ActionRecommendProfessional, Priority: 2},
		)
	case SeverityModerate:
		actions = append(actions,
			RecommendedAction{Type: ActionScheduleFollowup, Priority: 2},
			RecommendedAction{Type: ActionProvideResources, Priority: 2},
		)
	}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })
	return actions
}

// markRecurring updates per-concern timestamp lists and flags concerns
// seen at least recurrenceThreshold times.
func (g *Guard) markRecurring(concerns []DetectedConcern) {
	if len(concerns) == 0 {
		return
	}
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range concerns {
		t := concerns[i].Type
		entries := append(g.recurrence[t], now)
		if len(entries) > maxRecurrenceEntries {
			entries = entries[len(entries)-maxRecurrenceEntries:]
		}
		g.recurrence[t] = entries
		if len(entries) >= g.recurrenceThreshold {
			concerns[i].Recurring = true
		}
	}
}

func (g *Guard) appendAssessment(a Assessment) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log = append(g.log, a)
	if len(g.log) > maxAssessmentLog {
		g.log = g.log[len(g.log)-trimmedAssessmentLog:]
	}
}

// History returns a copy of the assessment log, oldest first.
func (g *Guard) History() []Assessment {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Assessment, len(g.log))
	copy(out, g.log)
	return out
}

// ApplyMedicalDisclaimer appends the standing disclaimer when the
// response text contains a known medical-misinformation marker.
func ApplyMedicalDisclaimer(response string) (string, bool) {
	lower := strings.ToLower(response)
	for _, marker := range medicalMisinformation {
		if strings.Contains(lower, marker) {
			return response + medicalDisclaimer, true
		}
	}
	return response, false
}
