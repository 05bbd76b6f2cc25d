package revenue

import (
	types "github.com/yungbote/adpilot-backend/internal/domain"
)

// WinnerThreshold qualifies an ad as a winner on either signal.
type WinnerThreshold struct {
	ROAS           float64
	CTR            float64
	MinImpressions int64
}

type WinnerCheck struct {
	Winner       bool
	CTR          float64
	PipelineROAS float64
	Reason       string
}

// IsWinner applies pipeline_roas > ROAS OR ctr > CTR. ROAS needs spend behind it and CTR
// needs MinImpressions, so an ad with a handful of lucky clicks does not qualify.
func IsWinner(ad *types.AdState, th WinnerThreshold) WinnerCheck {
	var out WinnerCheck
	if ad == nil {
		return out
	}
	if ad.Impressions > 0 {
		out.CTR = float64(ad.Clicks) / float64(ad.Impressions)
	}
	if ad.Spend.IsPositive() {
		out.PipelineROAS = ad.Revenue().Div(ad.Spend).InexactFloat64()
	}
	switch {
	case ad.Spend.IsPositive() && out.PipelineROAS > th.ROAS:
		out.Winner = true
		out.Reason = "pipeline_roas"
	case ad.Impressions >= th.MinImpressions && ad.Impressions > 0 && out.CTR > th.CTR:
		out.Winner = true
		out.Reason = "ctr"
	}
	return out
}
