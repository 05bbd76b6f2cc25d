package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/yungbote/adpilot-backend/internal/data/repos"
	types "github.com/yungbote/adpilot-backend/internal/domain"
	"github.com/yungbote/adpilot-backend/internal/observability"
	"github.com/yungbote/adpilot-backend/internal/pkg/dbctx"
	"github.com/yungbote/adpilot-backend/internal/platform/logger"
)

var (
	ErrInvalidClick      = errors.New("invalid click")
	ErrInvalidConversion = errors.New("invalid conversion")
)

const (
	ExactConfidence       = 1.0
	FingerprintConfidence = 0.9
)

// StageValuer prices a pipeline stage transition.
type StageValuer interface {
	StageChangeValue(ctx context.Context, tenantID, fromStage, toStage string, dealValue *decimal.Decimal) (decimal.Decimal, float64, error)
}

type Options struct {
	FingerprintWindow   time.Duration
	ProbabilisticWindow time.Duration
	// MinProbabilisticScore is the lowest combined score a probabilistic match may have.
	MinProbabilisticScore float64
	// MaxProbabilisticConfidence caps the confidence of any probabilistic match.
	MaxProbabilisticConfidence float64
	CandidateLimit             int
}

func DefaultOptions() Options {
	return Options{
		FingerprintWindow:          7 * 24 * time.Hour,
		ProbabilisticWindow:        24 * time.Hour,
		MinProbabilisticScore:      0.6,
		MaxProbabilisticConfidence: 0.7,
		CandidateLimit:             500,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FingerprintWindow <= 0 {
		o.FingerprintWindow = d.FingerprintWindow
	}
	if o.ProbabilisticWindow <= 0 {
		o.ProbabilisticWindow = d.ProbabilisticWindow
	}
	if o.MinProbabilisticScore <= 0 {
		o.MinProbabilisticScore = d.MinProbabilisticScore
	}
	if o.MaxProbabilisticConfidence <= 0 || o.MaxProbabilisticConfidence > d.MaxProbabilisticConfidence {
		o.MaxProbabilisticConfidence = d.MaxProbabilisticConfidence
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = d.CandidateLimit
	}
	return o
}

type Click struct {
	TenantID    string    `json:"tenant_id"`
	ClickID     string    `json:"click_id,omitempty"`
	AdID        string    `json:"ad_id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Device      Device    `json:"device"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	ClickedAt   time.Time `json:"clicked_at"`
}

// Conversion is either a CRM stage change or a purchase. Value is the purchase amount;
// stage changes are priced by the stage table, with DealValue overriding the won stage.
type Conversion struct {
	TenantID     string           `json:"tenant_id"`
	ConversionID string           `json:"conversion_id"`
	Kind         string           `json:"kind"`
	ClickID      string           `json:"click_id,omitempty"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	Device       Device           `json:"device"`
	IP           string           `json:"ip,omitempty"`
	UserAgent    string           `json:"user_agent,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
	Value        *decimal.Decimal `json:"value,omitempty"`
	FromStage    string           `json:"from_stage,omitempty"`
	ToStage      string           `json:"to_stage,omitempty"`
	DealValue    *decimal.Decimal `json:"deal_value,omitempty"`
}

type Result struct {
	ConversionID    string          `json:"conversion_id"`
	AdID            string          `json:"ad_id,omitempty"`
	Method          string          `json:"method"`
	Confidence      float64         `json:"confidence"`
	MatchScore      float64         `json:"match_score,omitempty"`
	RawValue        decimal.Decimal `json:"raw_value"`
	AttributedValue decimal.Decimal `json:"attributed_value"`
	Credited        bool            `json:"credited"`
	Duplicate       bool            `json:"duplicate"`
}

func (r Result) Attributed() bool { return r.Method != types.MethodUnattributed && r.AdID != "" }

type Service struct {
	db       *gorm.DB
	log      *logger.Logger
	clicks   repos.ClickEventRepo
	records  repos.AttributionRecordRepo
	adStates repos.AdStateRepo
	stages   StageValuer
	metrics  *observability.Metrics
	opts     Options
	now      func() time.Time
}

func NewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	clicks repos.ClickEventRepo,
	records repos.AttributionRecordRepo,
	adStates repos.AdStateRepo,
	stages StageValuer,
	metrics *observability.Metrics,
	opts Options,
) *Service {
	return &Service{
		db:       db,
		log:      baseLog.With("service", "AttributionService"),
		clicks:   clicks,
		records:  records,
		adStates: adStates,
		stages:   stages,
		metrics:  metrics,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordClick stores a click for later matching. Replaying a platform click id returns
// the stored click.
func (s *Service) RecordClick(ctx context.Context, in Click) (*types.ClickEvent, error) {
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.AdID = strings.TrimSpace(in.AdID)
	if in.TenantID == "" || in.AdID == "" {
		return nil, fmt.Errorf("%w: tenant_id and ad_id are required", ErrInvalidClick)
	}
	fp := strings.TrimSpace(in.Fingerprint)
	if fp == "" {
		fp = Fingerprint(in.Device)
	}
	at := in.ClickedAt
	if at.IsZero() {
		at = s.now()
	}
	ev := &types.ClickEvent{
		TenantID:    in.TenantID,
		AdID:        in.AdID,
		Fingerprint: fp,
		IP:          strings.TrimSpace(in.IP),
		UserAgent:   strings.TrimSpace(in.UserAgent),
		ClickedAt:   at.UTC(),
	}
	if id := strings.TrimSpace(in.ClickID); id != "" {
		ev.ClickID = &id
	}
	stored, err := s.clicks.Create(dbctx.Background(ctx), ev)
	if err != nil {
		return nil, fmt.Errorf("record click: %w", err)
	}
	return stored, nil
}

// Attribute runs the match cascade for a conversion and credits the matched ad. A
// conversion id is attributed once; repeats return the stored outcome.
func (s *Service) Attribute(ctx context.Context, conv Conversion) (Result, error) {
	if err := validateConversion(&conv); err != nil {
		return Result{}, err
	}
	if conv.OccurredAt.IsZero() {
		conv.OccurredAt = s.now()
	}
	conv.OccurredAt = conv.OccurredAt.UTC()

	if prior, err := s.records.GetByConversionID(dbctx.Background(ctx), conv.ConversionID); err != nil {
		return Result{}, err
	} else if prior != nil {
		return resultFromRecord(prior, true), nil
	}

	raw, stageConf, err := s.conversionValue(ctx, conv)
	if err != nil {
		return Result{}, err
	}

	var res Result
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		m, err := s.match(dbc, conv)
		if err != nil {
			return err
		}
		rec := &types.AttributionRecord{
			TenantID:        conv.TenantID,
			ConversionID:    conv.ConversionID,
			Kind:            conv.Kind,
			MatchMethod:     m.method,
			Confidence:      m.confidence,
			MatchScore:      m.score,
			FromStage:       conv.FromStage,
			ToStage:         conv.ToStage,
			RawValue:        raw,
			StageConfidence: stageConf,
			MatchedAt:       conv.OccurredAt,
		}
		if m.click != nil {
			id := m.click.ID
			rec.ClickEventID = &id
			rec.AdID = m.click.AdID
			rec.AttributedValue = raw.Mul(decimal.NewFromFloat(m.confidence * stageConf)).Round(2)
		}
		if _, err := s.records.Create(dbc, rec); err != nil {
			return err
		}
		res = resultFromRecord(rec, false)
		if rec.Attributed() && rec.AttributedValue.IsPositive() {
			pipeline, cash := decimal.Zero, decimal.Zero
			if conv.Kind == types.ConversionPurchase {
				cash = rec.AttributedValue
			} else {
				pipeline = rec.AttributedValue
			}
			ok, err := s.adStates.AddValue(dbc, rec.AdID, pipeline, cash)
			if err != nil {
				return err
			}
			res.Credited = ok
		}
		return nil
	})
	if txErr != nil {
		// A concurrent delivery of the same conversion may have won the unique index.
		if prior, err := s.records.GetByConversionID(dbctx.Background(ctx), conv.ConversionID); err == nil && prior != nil {
			return resultFromRecord(prior, true), nil
		}
		return Result{}, fmt.Errorf("attribute conversion %s: %w", conv.ConversionID, txErr)
	}

	s.metrics.IncAttribution(res.Method)
	if res.Attributed() && !res.Credited && res.AttributedValue.IsPositive() {
		s.log.Warn("Attributed ad has no state row yet; value not credited", "ad_id", res.AdID, "conversion_id", res.ConversionID)
	}
	s.log.Debug("Conversion attributed",
		"conversion_id", res.ConversionID,
		"method", res.Method,
		"ad_id", res.AdID,
		"confidence", res.Confidence,
		"attributed_value", res.AttributedValue.String(),
	)
	return res, nil
}

func (s *Service) conversionValue(ctx context.Context, conv Conversion) (decimal.Decimal, float64, error) {
	if conv.Kind == types.ConversionPurchase {
		return conv.Value.Round(2), 1.0, nil
	}
	if s.stages == nil {
		return decimal.Zero, 0, fmt.Errorf("%w: no stage values configured", ErrInvalidConversion)
	}
	v, conf, err := s.stages.StageChangeValue(ctx, conv.TenantID, conv.FromStage, conv.ToStage, conv.DealValue)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("%w: %w", ErrInvalidConversion, err)
	}
	return v, conf, nil
}

type match struct {
	click      *types.ClickEvent
	method     string
	confidence float64
	score      float64
}

// match tries exact click id, then fingerprint, then probabilistic. Each tier claims the
// click it picks; a lost claim moves on to the next candidate.
func (s *Service) match(dbc dbctx.Context, conv Conversion) (match, error) {
	if conv.ClickID != "" {
		ev, err := s.clicks.GetByClickID(dbc, conv.TenantID, conv.ClickID)
		if err != nil {
			return match{}, err
		}
		if ev != nil {
			ok, err := s.clicks.Claim(dbc, ev.ID, conv.ConversionID)
			if err != nil {
				return match{}, err
			}
			if ok {
				return match{click: ev, method: types.MethodExact, confidence: ExactConfidence, score: 1}, nil
			}
		}
	}

	fp := conv.Fingerprint
	if fp == "" {
		fp = Fingerprint(conv.Device)
	}
	if fp != "" {
		since := conv.OccurredAt.Add(-s.opts.FingerprintWindow)
		for attempt := 0; attempt < 3; attempt++ {
			ev, err := s.clicks.LatestByFingerprint(dbc, conv.TenantID, fp, since, conv.OccurredAt)
			if err != nil {
				return match{}, err
			}
			if ev == nil {
				break
			}
			ok, err := s.clicks.Claim(dbc, ev.ID, conv.ConversionID)
			if err != nil {
				return match{}, err
			}
			if ok {
				return match{click: ev, method: types.MethodFingerprint, confidence: FingerprintConfidence, score: 1}, nil
			}
		}
	}

	if conv.IP != "" || conv.UserAgent != "" {
		since := conv.OccurredAt.Add(-s.opts.ProbabilisticWindow)
		cands, err := s.clicks.ListProbabilisticCandidates(dbc, conv.TenantID, conv.IP, conv.UserAgent, since, conv.OccurredAt, s.opts.CandidateLimit)
		if err != nil {
			return match{}, err
		}
		for _, c := range rankCandidates(cands, conv, s.opts) {
			ok, err := s.clicks.Claim(dbc, c.click.ID, conv.ConversionID)
			if err != nil {
				return match{}, err
			}
			if ok {
				return c, nil
			}
		}
	}
	return match{method: types.MethodUnattributed}, nil
}

// ProbabilisticScore is 0.5 for a matching IP, 0.3 for a matching user agent and up to
// 0.2 for time proximity, decaying linearly to zero at the window edge.
func ProbabilisticScore(ev *types.ClickEvent, ip, userAgent string, at time.Time, window time.Duration) float64 {
	if ev == nil || window <= 0 {
		return 0
	}
	dt := at.Sub(ev.ClickedAt)
	if dt < 0 || dt > window {
		return 0
	}
	var score float64
	if ip != "" && ev.IP == ip {
		score += 0.5
	}
	if userAgent != "" && ev.UserAgent == userAgent {
		score += 0.3
	}
	score += 0.2 * (1 - float64(dt)/float64(window))
	return score
}

// rankCandidates keeps candidates at or above the minimum score, best first. Equal
// scores keep the input order, which is most recent first.
func rankCandidates(cands []*types.ClickEvent, conv Conversion, opts Options) []match {
	out := make([]match, 0, len(cands))
	for _, ev := range cands {
		sc := ProbabilisticScore(ev, conv.IP, conv.UserAgent, conv.OccurredAt, opts.ProbabilisticWindow)
		if sc < opts.MinProbabilisticScore {
			continue
		}
		conf := sc
		if conf > opts.MaxProbabilisticConfidence {
			conf = opts.MaxProbabilisticConfidence
		}
		m := match{click: ev, method: types.MethodProbabilistic, confidence: conf, score: sc}
		i := len(out)
		for i > 0 && out[i-1].score < sc {
			i--
		}
		out = append(out, match{})
		copy(out[i+1:], out[i:])
		out[i] = m
	}
	return out
}

func validateConversion(conv *Conversion) error {
	conv.TenantID = strings.TrimSpace(conv.TenantID)
	conv.ConversionID = strings.TrimSpace(conv.ConversionID)
	conv.Kind = strings.TrimSpace(conv.Kind)
	conv.ClickID = strings.TrimSpace(conv.ClickID)
	conv.Fingerprint = strings.TrimSpace(conv.Fingerprint)
	conv.IP = strings.TrimSpace(conv.IP)
	conv.UserAgent = strings.TrimSpace(conv.UserAgent)
	if conv.TenantID == "" || conv.ConversionID == "" {
		return fmt.Errorf("%w: tenant_id and conversion_id are required", ErrInvalidConversion)
	}
	switch conv.Kind {
	case types.ConversionPurchase:
		if conv.Value == nil || conv.Value.IsNegative() {
			return fmt.Errorf("%w: purchase needs a non-negative value", ErrInvalidConversion)
		}
	case types.ConversionStageChange:
		if strings.TrimSpace(conv.ToStage) == "" {
			return fmt.Errorf("%w: stage change needs to_stage", ErrInvalidConversion)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConversion, conv.Kind)
	}
	return nil
}

func resultFromRecord(rec *types.AttributionRecord, duplicate bool) Result {
	return Result{
		ConversionID:    rec.ConversionID,
		AdID:            rec.AdID,
		Method:          rec.MatchMethod,
		Confidence:      rec.Confidence,
		MatchScore:      rec.MatchScore,
		RawValue:        rec.RawValue,
		AttributedValue: rec.AttributedValue,
		Duplicate:       duplicate,
	}
}
