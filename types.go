// Package judge is the public API for the Ethical Judgment Engine: an
// adjudication pipeline that takes a request plus a set of critic opinions
// and produces a governed, auditable verdict.
//
// Callers construct an Engine with New and the options in this package, then
// call Decide once per request:
//
//	engine, err := judge.New(
//	    judge.WithCritics(myCritics...),
//	    judge.WithRightsHierarchy(myHierarchy),
//	    judge.WithAuditLog(myAuditLog),
//	)
//	if err != nil { ... }
//	decision, err := engine.Decide(ctx, judge.Request{Text: "...", Context: map[string]any{...}})
//
// The import graph enforces a strict no-cycle rule: judge (root) imports
// internal/*, but internal/* never imports judge (root). The public types
// below are aliases onto internal/model's canonical data carriers rather than
// a separate curated view, since this package is a library engine, not a
// service boundary guarding an evolving wire schema — callers already get the
// full fidelity of every field the pipeline computes.
package judge

import (
	"github.com/eje-systems/eje/internal/audit"
	"github.com/eje-systems/eje/internal/critics"
	"github.com/eje-systems/eje/internal/governance"
	"github.com/eje-systems/eje/internal/model"
	"github.com/eje-systems/eje/internal/override"
	"github.com/eje-systems/eje/internal/precedent"
)

// Core data carriers, re-exported from internal/model so callers never need
// to import an internal package to hold or inspect a value this package
// returns.
type (
	Request          = model.Request
	RequestMeta      = model.RequestMeta
	InputSnapshot    = model.InputSnapshot
	CriticOutput     = model.CriticOutput
	EvidenceSource   = model.EvidenceSource
	EvidenceBundle   = model.EvidenceBundle
	BundleMetadata   = model.BundleMetadata
	BundleFlags      = model.BundleFlags
	ValidationError  = model.ValidationError
	Aggregation      = model.Aggregation
	Decision         = model.Decision
	GovernanceOutcome = model.GovernanceOutcome
	OverrideBlock    = model.OverrideBlock
	OverrideRequest  = model.OverrideRequest
	ReviewerIdentity = model.ReviewerIdentity
	PrecedentRef     = model.PrecedentRef
	FallbackEvidenceBundle = model.FallbackEvidenceBundle

	Verdict         = model.Verdict
	Priority        = model.Priority
	ConsensusLevel  = model.ConsensusLevel
	Environment     = model.Environment
	ReviewerRole    = model.ReviewerRole
	FallbackTrigger = model.FallbackTrigger
	FallbackStrategy = model.FallbackStrategy
)

// Verdict values.
const (
	Allow    = model.VerdictAllow
	Deny     = model.VerdictDeny
	Review   = model.VerdictReview
	Escalate = model.VerdictEscalate
	Error    = model.VerdictError
	Abstain  = model.VerdictAbstain
)

// Priority values.
const (
	PriorityOverride = model.PriorityOverride
	PriorityVeto     = model.PriorityVeto
)

// Environment values.
const (
	EnvProduction  = model.EnvProduction
	EnvStaging     = model.EnvStaging
	EnvDevelopment = model.EnvDevelopment
	EnvTest        = model.EnvTest
)

// Critic is the interface an external evaluator must satisfy to participate
// in adjudication. See internal/critics.Critic.
type Critic = critics.Critic

// Budget bounds one Decide call's critic dispatch.
type Budget = critics.Budget

// RetryPolicy governs whether a failed critic invocation is retried.
type RetryPolicy = critics.RetryPolicy

// RightsHierarchy configures the governance layer's hard-rights set.
type RightsHierarchy = governance.RightsHierarchy

// RightRule is one entry in a RightsHierarchy.
type RightRule = governance.RightRule

// GovernanceMode selects the governance-framework overlay: one of §6's
// closed set (eu_ai_act, oecd, un_global, nist_rmf, korea_basic,
// japan_society5, default), each carrying its own thresholds and compliance
// requirements. See the GovernanceMode* constants below.
type GovernanceMode = governance.Mode

// PrecedentStore is the interface a backing precedent search index must
// satisfy. See internal/precedent.Store.
type PrecedentStore = precedent.Store

// PrecedentQuery describes a similarity search against a PrecedentStore.
type PrecedentQuery = precedent.Query

// PrecedentRecord is one stored precedent.
type PrecedentRecord = precedent.Record

// RankWeights are the hybrid precedent ranker's component weights.
type RankWeights = precedent.RankWeights

// AuditLog is the interface the engine appends every decision and override
// event to. See internal/audit.Log.
type AuditLog = audit.Log

// AuditEvent is one append-only audit record.
type AuditEvent = audit.Event

// AuditReceipt is returned from a successful audit append.
type AuditReceipt = audit.Receipt

// ApplyOverrideOptions controls ApplyOverride's mutation behavior.
type ApplyOverrideOptions = override.ApplyOptions

// Governance modes, the closed set §6's governance_mode config key names.
const (
	GovernanceModeEUAIAct       = governance.ModeEUAIAct
	GovernanceModeOECD          = governance.ModeOECD
	GovernanceModeUNGlobal      = governance.ModeUNGlobal
	GovernanceModeNISTRMF       = governance.ModeNISTRMF
	GovernanceModeKoreaBasic    = governance.ModeKoreaBasic
	GovernanceModeJapanSociety5 = governance.ModeJapanSociety5
	GovernanceModeDefault       = governance.ModeDefault
)

// Fallback strategies, the closed set spec.md names.
const (
	StrategyConservative = model.StrategyConservative
	StrategyPermissive    = model.StrategyPermissive
	StrategyEscalate      = model.StrategyEscalate
	StrategyFailSafe      = model.StrategyFailSafe
	StrategyMajority      = model.StrategyMajority
)
