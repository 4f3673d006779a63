package governance

// OversightLevel describes the required intensity of human oversight a
// governance mode demands, per §4.4's mode overlay.
type OversightLevel string

const (
	OversightNone        OversightLevel = "none"
	OversightMinimal     OversightLevel = "minimal"
	OversightModerate    OversightLevel = "moderate"
	OversightHigh        OversightLevel = "high"
	OversightHumanInLoop OversightLevel = "human_in_loop"
)

const (
	// ModeEUAIAct mirrors the EU AI Act's risk-based classification: strict
	// thresholds, mandatory human oversight, and conformity-assessment-style
	// compliance requirements for high-risk systems.
	ModeEUAIAct Mode = "eu_ai_act"
	// ModeOECD mirrors the OECD AI Principles: values-based governance with
	// moderate oversight and no mandatory third-party audit.
	ModeOECD Mode = "oecd"
	// ModeUNGlobal mirrors UN Global AI Governance: human-rights-centered,
	// with mandatory human rights impact assessment.
	ModeUNGlobal Mode = "un_global"
	// ModeNISTRMF mirrors the NIST AI Risk Management Framework.
	ModeNISTRMF Mode = "nist_rmf"
	// ModeKoreaBasic mirrors the Korea AI Basic Act's ethics/dignity focus,
	// including a mandatory privacy-enhancing-technology requirement.
	ModeKoreaBasic Mode = "korea_basic"
	// ModeJapanSociety5 mirrors Japan's Society 5.0 human-centric framework.
	ModeJapanSociety5 Mode = "japan_society5"
	// ModeDefault is the baseline mode: minimal oversight, no mandatory
	// explainability or compliance artifacts.
	ModeDefault Mode = "default"
)

// ModeConfig is the per-mode configuration consulted by a mode overlay's
// compliance post-check: decision thresholds, oversight/explainability
// requirements, and which compliance artifacts (risk/impact assessment,
// third-party audit, certification) the mode expects a decision to carry.
type ModeConfig struct {
	Mode        Mode
	Name        string
	Description string

	DenyThreshold   float64
	ReviewThreshold float64
	AllowThreshold  float64

	OversightLevel      OversightLevel
	RequiresHumanReview bool
	AuditFrequency      string

	ExplainabilityRequired bool
	ExplanationDepth       string // minimal, standard, comprehensive
	UserFacingExplanations bool

	DataMinimizationRequired bool
	ConsentRequired          bool
	PETRecommended           bool
	PETRequired              bool

	RiskAssessmentRequired   bool
	ImpactAssessmentRequired bool
	ThirdPartyAuditRequired  bool
	CertificationRequired    bool

	SpecificParameters map[string]any
}

// modeConfigs holds the preset configuration for every named mode in §6's
// governance_mode enum, ported from the reference implementation's
// GovernanceModeLayer._initialize_mode_configs.
var modeConfigs = map[Mode]ModeConfig{
	ModeEUAIAct: {
		Mode:                     ModeEUAIAct,
		Name:                     "EU AI Act",
		Description:              "Risk-based AI regulation with strict requirements for high-risk systems",
		DenyThreshold:            0.8,
		ReviewThreshold:          0.5,
		AllowThreshold:           0.2,
		OversightLevel:           OversightHigh,
		RequiresHumanReview:      true,
		AuditFrequency:           "quarterly",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "comprehensive",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: true,
		ThirdPartyAuditRequired:  true,
		CertificationRequired:    true,
		SpecificParameters: map[string]any{
			"risk_categories": []string{"unacceptable", "high", "limited", "minimal"},
			"prohibited_uses": []string{
				"social_scoring",
				"real_time_biometric_identification",
				"subliminal_manipulation",
				"exploitation_of_vulnerabilities",
			},
			"human_oversight_mandatory": true,
			"post_market_monitoring":    true,
		},
	},
	ModeUNGlobal: {
		Mode:                     ModeUNGlobal,
		Name:                     "UN Global AI Governance",
		Description:              "Human rights-centered AI governance with focus on sustainable development",
		DenyThreshold:            0.75,
		ReviewThreshold:          0.45,
		AllowThreshold:           0.25,
		OversightLevel:           OversightHigh,
		RequiresHumanReview:      true,
		AuditFrequency:           "semi-annual",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "comprehensive",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: true,
		SpecificParameters: map[string]any{
			"core_principles": []string{
				"human_rights_respect", "sustainable_development", "global_cooperation",
				"inclusive_development", "non_discrimination",
			},
			"sdg_alignment": true,
		},
	},
	ModeOECD: {
		Mode:                     ModeOECD,
		Name:                     "OECD AI Principles",
		Description:              "Values-based AI governance with focus on inclusive growth",
		DenyThreshold:            0.7,
		ReviewThreshold:          0.4,
		AllowThreshold:           0.3,
		OversightLevel:           OversightModerate,
		RequiresHumanReview:      false,
		AuditFrequency:           "annual",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "standard",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: false,
		SpecificParameters: map[string]any{
			"five_principles": []string{
				"inclusive_growth_and_wellbeing", "human_centered_values",
				"transparency_and_explainability", "robustness_security_safety", "accountability",
			},
			"multi_stakeholder_approach": true,
		},
	},
	ModeNISTRMF: {
		Mode:                     ModeNISTRMF,
		Name:                     "NIST AI RMF",
		Description:              "Risk-based framework for trustworthy AI development and deployment",
		DenyThreshold:            0.75,
		ReviewThreshold:          0.45,
		AllowThreshold:           0.25,
		OversightLevel:           OversightModerate,
		RequiresHumanReview:      false,
		AuditFrequency:           "quarterly",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "comprehensive",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: true,
		SpecificParameters: map[string]any{
			"core_functions": []string{"govern", "map", "measure", "manage"},
			"trustworthy_characteristics": []string{
				"valid_and_reliable", "safe", "secure_and_resilient",
				"accountable_and_transparent", "explainable_and_interpretable",
				"privacy_enhanced", "fair_with_harmful_bias_managed",
			},
		},
	},
	ModeKoreaBasic: {
		Mode:                     ModeKoreaBasic,
		Name:                     "Korea AI Basic Act",
		Description:              "Ethics-centered AI governance protecting human dignity and public interest",
		DenyThreshold:            0.75,
		ReviewThreshold:          0.4,
		AllowThreshold:           0.25,
		OversightLevel:           OversightHigh,
		RequiresHumanReview:      true,
		AuditFrequency:           "quarterly",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "comprehensive",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		PETRequired:              true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: true,
		SpecificParameters: map[string]any{
			"core_values": []string{"human_dignity", "public_interest", "fairness", "transparency", "safety"},
			"privacy_emphasis": true,
		},
	},
	ModeJapanSociety5: {
		Mode:                     ModeJapanSociety5,
		Name:                     "Japan Society 5.0",
		Description:              "Human-centric AI for solving social challenges and improving quality of life",
		DenyThreshold:            0.7,
		ReviewThreshold:          0.4,
		AllowThreshold:           0.3,
		OversightLevel:           OversightModerate,
		RequiresHumanReview:      false,
		AuditFrequency:           "semi-annual",
		ExplainabilityRequired:   true,
		ExplanationDepth:         "standard",
		UserFacingExplanations:   true,
		DataMinimizationRequired: true,
		ConsentRequired:          true,
		PETRecommended:           true,
		RiskAssessmentRequired:   true,
		ImpactAssessmentRequired: false,
		SpecificParameters: map[string]any{
			"core_concepts": []string{
				"human_centric", "cyber_physical_integration", "social_challenge_solving",
				"quality_of_life_improvement", "sustainable_development",
			},
			"stakeholder_collaboration": true,
		},
	},
	ModeDefault: {
		Mode:                ModeDefault,
		Name:                "Default Governance",
		Description:         "Baseline AI governance with general best practices",
		DenyThreshold:       0.7,
		ReviewThreshold:     0.4,
		AllowThreshold:      0.3,
		OversightLevel:      OversightMinimal,
		RequiresHumanReview: false,
		AuditFrequency:      "annual",
		ExplanationDepth:    "minimal",
		SpecificParameters:  map[string]any{},
	},
}

// ModeConfigFor returns the preset configuration for mode, falling back to
// ModeDefault's configuration for an empty or unrecognized mode.
func ModeConfigFor(mode Mode) ModeConfig {
	if cfg, ok := modeConfigs[mode]; ok {
		return cfg
	}
	return modeConfigs[ModeDefault]
}

// IsRecognizedMode reports whether mode is one of §6's closed set of
// governance_mode values.
func IsRecognizedMode(mode Mode) bool {
	_, ok := modeConfigs[mode]
	return ok
}

// escalatesOnAdvisory reports whether step 4's transparency/proportionality
// advisory findings should force escalation under cfg, rather than remain
// purely informational. Modes that mandate human review or high/human-in-
// loop oversight (EU AI Act, UN Global, Korea Basic) treat an advisory hit
// as escalation-worthy; modes with moderate-or-lower oversight (OECD, NIST
// RMF, Japan Society 5.0, default) leave it advisory-only.
func (cfg ModeConfig) escalatesOnAdvisory() bool {
	return cfg.RequiresHumanReview || cfg.OversightLevel == OversightHigh || cfg.OversightLevel == OversightHumanInLoop
}

// depthRank orders explanation depths so actual-vs-required can be compared.
func depthRank(depth string) int {
	switch depth {
	case "comprehensive":
		return 2
	case "standard":
		return 1
	default:
		return 0
	}
}
