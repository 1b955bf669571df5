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

// Match weights: each keyword hit contributes 0.3, each phrase hit 0.5,
// and the sum is multiplied by the concern's weight.
const (
	keywordWeight = 0.3
	phraseWeight  = 0.5

	// emotionBonus is added when the caller-supplied emotion matches the
	// concern's correlated emotion.
	emotionBonus = 0.3
)

type concernDef struct {
	Type     ConcernType
	Keywords []string
	Phrases  []string
	Weight   float64

	// CriticalOverride forces the overall risk to CRITICAL whenever the
	// concern is detected at all.
	CriticalOverride bool

	// Emotion whose presence adds emotionBonus to the score.
	Emotion Emotion
}

// concernTable is the static screening table. Keywords are single
// case-folded tokens; phrases are matched as substrings.
var concernTable = []concernDef{
	{
		Type:     ConcernLoneliness,
		Keywords: []string{"lonely", "alone", "isolated", "forgotten"},
		Phrases:  []string{"nobody visits", "no one calls", "all by myself", "nobody cares about me"},
		Weight:   1.0,
		Emotion:  EmotionLoneliness,
	},
	{
		Type:     ConcernDepression,
		Keywords: []string{"hopeless", "worthless", "empty", "pointless"},
		Phrases:  []string{"what's the point", "nothing matters anymore", "can't enjoy anything", "no reason to get up"},
		Weight:   1.2,
		Emotion:  EmotionSadness,
	},
	{
		Type:             ConcernSelfHarm,
		Keywords:         []string{"cutting", "overdose"},
		Phrases:          []string{"hurt myself", "harm myself", "stopped taking my pills on purpose"},
		Weight:           2.0,
		CriticalOverride: true,
	},
	{
		Type:             ConcernSuicidalIdeation,
		Keywords:         []string{"suicide"},
		Phrases:          []string{"don't want to live", "end my life", "better off dead", "kill myself", "want to die", "not wake up"},
		Weight:           2.0,
		CriticalOverride: true,
	},
	{
		Type:     ConcernCognitiveDecline,
		Keywords: []string{"forgetting", "confused", "memory"},
		Phrases:  []string{"can't remember things", "keep losing track", "forgot my own", "getting worse at remembering"},
		Weight:   1.0,
		Emotion:  EmotionConfusion,
	},
	{
		Type:     ConcernDisorientation,
		Keywords: []string{"lost"},
		Phrases:  []string{"don't know where i am", "what day is it", "don't recognize", "how did i get here"},
		Weight:   1.4,
		Emotion:  EmotionConfusion,
	},
	{
		Type:             ConcernMedicalEmergency,
		Keywords:         []string{"ambulance", "stroke", "unconscious"},
		Phrases:          []string{"chest pain", "can't breathe", "fell and can't get up", "bleeding badly", "face is drooping"},
		Weight:           2.0,
		CriticalOverride: true,
	},
	{
		Type:     ConcernSubstanceAbuse,
		Keywords: []string{"drunk"},
		Phrases:  []string{"too many pills", "drinking more than", "double dose", "mixed my medications"},
		Weight:   1.2,
	},
	{
		Type:             ConcernAbuse,
		Keywords:         []string{"threatened", "afraid"},
		Phrases:          []string{"hurts me", "yells at me", "won't let me", "takes my money", "scared of him", "scared of her"},
		Weight:           1.6,
		CriticalOverride: true,
		Emotion:          EmotionFear,
	},
	{
		Type:     ConcernFinancialExploitation,
		Keywords: []string{"wired", "giftcards"},
		Phrases:  []string{"asked me for money", "gave them my card", "emptied my account", "keeps asking me to pay"},
		Weight:   1.4,
	},
	{
		Type:     ConcernFallRisk,
		Keywords: []string{"fell", "dizzy", "unsteady"},
		Phrases:  []string{"almost fell", "lost my balance", "tripped again", "legs gave out"},
		Weight:   1.2,
	},
	{
		Type:     ConcernDistress,
		Keywords: []string{"scared", "panicking", "overwhelmed"},
		Phrases:  []string{"can't stop crying", "so worried i can't", "shaking and"},
		Weight:   1.0,
		Emotion:  EmotionFear,
	},
}

type scamDef struct {
	Type     ScamType
	Keywords []string
	Phrases  []string
	Weight   float64

	// Severity is intrinsic to the pattern; a match reports this bucket
	// regardless of score once past the detection threshold.
	Severity Severity

	Response string
}

var scamTable = []scamDef{
	{
		Type:     ScamMoneyRequest,
		Keywords: []string{"wire", "moneygram"},
		Phrases:  []string{"send money", "gift cards", "western union", "pay a fee first"},
		Weight:   1.2,
		Severity: SeverityHigh,
		Response: "Please do not send money or gift cards to anyone who contacted you unexpectedly. Let's talk it over with someone you trust first.",
	},
	{
		Type:     ScamGovernmentImpersonation,
		Keywords: []string{"irs", "ssa"},
		Phrases:  []string{"social security number suspended", "warrant for your arrest", "owe back taxes", "calling from the government"},
		Weight:   1.2,
		Severity: SeverityHigh,
		Response: "Government agencies never call demanding payment or personal numbers. It is safe to hang up. Do not share your Social Security number.",
	},
	{
		Type:     ScamTechSupport,
		Keywords: []string{"virus", "microsoft"},
		Phrases:  []string{"remote access", "your computer is infected", "tech support called", "install this program"},
		Weight:   1.2,
		Severity: SeverityHigh,
		Response: "Real tech companies don't call about viruses. Please don't let anyone into your computer or pay them. Hang up and tell a family member.",
	},
	{
		Type:     ScamRomance,
		Keywords: []string{},
		Phrases:  []string{"met online and needs money", "never met in person", "overseas and stranded", "loves me but needs"},
		Weight:   1.1,
		Severity: SeverityModerate,
		Response: "Someone you have only met online asking for money is a very common scam, even when they seem kind. Please don't send anything before talking to family.",
	},
	{
		Type:     ScamLottery,
		Keywords: []string{"sweepstakes", "jackpot"},
		Phrases:  []string{"you won", "claim your prize", "lottery winner", "processing fee to collect"},
		Weight:   1.1,
		Severity: SeverityModerate,
		Response: "A real prize never costs money to claim. Paying a fee to collect winnings is always a scam. Please don't send anything.",
	},
	{
		Type:     ScamGrandparent,
		Keywords: []string{},
		Phrases:  []string{"grandchild needs bail", "grandson is in jail", "granddaughter is in trouble", "needs bail money", "grandchild in an accident"},
		Weight:   2.0,
		Severity: SeverityCritical,
		Response: "This sounds like the 'grandparent scam'. Please do not send money. Hang up and call your grandchild or their parents directly at a number you know to check they are safe.",
	},
	{
		Type:     ScamMedicare,
		Keywords: []string{"medicare"},
		Phrases:  []string{"new medicare card", "verify your medicare number", "free medical equipment"},
		Weight:   1.1,
		Severity: SeverityHigh,
		Response: "Medicare never calls to ask for your number or offer free equipment. Please don't share your Medicare number with callers.",
	},
	{
		Type:     ScamInvestment,
		Keywords: []string{"bitcoin", "crypto"},
		Phrases:  []string{"guaranteed returns", "double your money", "act now before", "investment opportunity"},
		Weight:   1.1,
		Severity: SeverityModerate,
		Response: "Guaranteed high returns are a classic scam sign. Please don't move any money before speaking with your bank or family.",
	},
	{
		Type:     ScamCharity,
		Keywords: []string{},
		Phrases:  []string{"donate today only", "charity needs cash", "donation by gift card"},
		Weight:   1.0,
		Severity: SeverityModerate,
		Response: "Real charities never need gift cards or same-day cash. If you'd like to give, we can look up the charity's official website together.",
	},
	{
		Type:     ScamPhishing,
		Keywords: []string{"password"},
		Phrases:  []string{"verify your account", "click this link", "confirm your bank details", "account will be closed"},
		Weight:   1.1,
		Severity: SeverityHigh,
		Response: "Please don't click links or give passwords from unexpected messages. Your bank will never ask for them this way.",
	},
}

// crisisLine is appended to every suicidal-ideation response.
const crisisLine = "You can call or text 988, the Suicide and Crisis Lifeline, any time, day or night. Someone caring is there to listen."

// responseTemplates keyed by response type; suicidal ideation and
// medical emergency get dedicated emergency text.
var responseTemplates = map[ResponseType]string{
	ResponseEscalate:      "I'm really concerned about what you just shared, and I want to make sure you're safe. I'm going to make sure someone who can help knows about this right away.",
	ResponseSuggestCare:   "That sounds really hard, and I don't think you should have to carry it alone. Would it be okay if we let someone close to you know how you're feeling?",
	ResponseEncourageHelp: "Thank you for telling me. It might really help to talk this over with your doctor or someone you trust. Would you like help setting that up?",
	ResponseComfort:       "I hear you, and I'm glad you told me. I'm here with you, and we can talk about it as long as you like.",
	ResponseSupportive:    "I'm here and listening.",
}

const emergencyMedicalResponse = "This could be a medical emergency. Please call 911 right now, or press your medical alert button if you have one. I'm also letting your caregiver know immediately."

const emergencySuicidalResponse = "I'm so glad you told me, and I want you to know you matter very much. " + crisisLine + " I'm also letting someone who cares about you know, because you shouldn't be alone with this."

// medicalMisinformation gates the appending of medicalDisclaimer to
// synthesized responses making health claims.
var medicalMisinformation = []string{
	"cure", "cures", "miracle treatment", "stop taking your medication",
	"instead of your medication", "doctors don't want you to know",
	"natural remedy replaces",
}

const medicalDisclaimer = " Please remember I can't give medical advice; always check with your doctor or pharmacist before changing anything about your health routine."
