package domain

import (
	"github.com/yungbote/adpilot-backend/internal/domain/ads"
	"github.com/yungbote/adpilot-backend/internal/domain/attribution"
	"github.com/yungbote/adpilot-backend/internal/domain/revenue"
	"github.com/yungbote/adpilot-backend/internal/domain/tenant"
	"github.com/yungbote/adpilot-backend/internal/domain/winners"
)

const (
	AdStatusActive   = ads.AdStatusActive
	AdStatusPaused   = ads.AdStatusPaused
	AdStatusInactive = ads.AdStatusInactive

	ActionSetBudget = ads.ActionSetBudget
	ActionPause     = ads.ActionPause
	ActionResume    = ads.ActionResume

	ChangeStatusPending    = ads.ChangeStatusPending
	ChangeStatusClaimed    = ads.ChangeStatusClaimed
	ChangeStatusExecuting  = ads.ChangeStatusExecuting
	ChangeStatusCompleted  = ads.ChangeStatusCompleted
	ChangeStatusFailed     = ads.ChangeStatusFailed
	ChangeStatusSuperseded = ads.ChangeStatusSuperseded

	GateJitter   = ads.GateJitter
	GateRate     = ads.GateRate
	GateVelocity = ads.GateVelocity
	GateFuzzy    = ads.GateFuzzy
	GateLease    = ads.GateLease
	GatePlatform = ads.GatePlatform

	GatePassed  = ads.GatePassed
	GateFailed  = ads.GateFailed
	GateSkipped = ads.GateSkipped

	OutcomeCompleted = ads.OutcomeCompleted
	OutcomeFailed    = ads.OutcomeFailed

	MethodExact         = attribution.MethodExact
	MethodFingerprint   = attribution.MethodFingerprint
	MethodProbabilistic = attribution.MethodProbabilistic
	MethodUnattributed  = attribution.MethodUnattributed

	ConversionStageChange = attribution.ConversionStageChange
	ConversionPurchase    = attribution.ConversionPurchase

	StageLead        = revenue.StageLead
	StageQualified   = revenue.StageQualified
	StageProposal    = revenue.StageProposal
	StageNegotiation = revenue.StageNegotiation
	StageWon         = revenue.StageWon
	StageLost        = revenue.StageLost
)

var OpenChangeStatuses = ads.OpenChangeStatuses

var (
	ErrHistoryImmutable     = ads.ErrImmutable
	ErrAttributionImmutable = attribution.ErrImmutable
)

type AdState = ads.AdState
type Campaign = ads.Campaign
type PendingChange = ads.PendingChange
type ChangeHistory = ads.ChangeHistory
type Creative = ads.Creative

type ClickEvent = attribution.ClickEvent
type AttributionRecord = attribution.AttributionRecord

type StageValue = revenue.StageValue

type WinnerRecord = winners.WinnerRecord

type TenantConfig = tenant.TenantConfig

func IsTerminalChangeStatus(status string) bool { return ads.IsTerminalChangeStatus(status) }
func ValidAction(action string) bool            { return ads.ValidAction(action) }
