package assess

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plays-ai/internal/ai"
	"plays-ai/internal/config"
	"plays-ai/internal/market"
	"plays-ai/internal/play"
)

// 启发式信号阈值。
const (
	highVolatility  = 0.05
	volumeExpansion = 1.2
	volumeShrink    = 0.6
)

// Appraiser 抽象模型侧的四象限评估能力，方便测试替换。
type Appraiser interface {
	AppraisePlay(ctx context.Context, req ai.AppraiseRequest) (ai.Appraisal, error)
}

// Request 为一次评估的输入。DeclaredConfidence 是交易者自报的信心度，
// 仅参与风险画像；评估信心度由双路径一致性推导，两者互不覆盖。
type Request struct {
	Play               play.Play
	Snapshot           market.Snapshot
	Quantity           float64
	MaxLossPct         float64
	DeclaredConfidence float64
}

// Engine 负责生成定性评估与量化风险画像。
// 定性路径为"模型优先、启发式兜底"；风险路径为纯确定性计算。
type Engine struct {
	cfg       config.RiskConfig
	appraiser Appraiser
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEngine 创建评估引擎。appraiser 可以为 nil，此时仅走启发式路径。
func NewEngine(cfg config.RiskConfig, appraiser Appraiser, timeout time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		appraiser: appraiser,
		timeout:   timeout,
		logger:    logger,
	}
}

// Assess 评估剧本，永不失败：模型路径出错时自动落回启发式结果。
func (e *Engine) Assess(ctx context.Context, req Request) (Assessment, RiskProfile) {
	heuristic := e.heuristicAssessment(req.Play, req.Snapshot)

	assessment := heuristic
	confidence := 0.5

	if e.appraiser != nil {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		appraisal, err := e.appraiser.AppraisePlay(callCtx, ai.AppraiseRequest{
			Symbol:      req.Play.Symbol,
			Side:        string(req.Play.Side),
			Thesis:      req.Play.Thesis,
			Catalyst:    req.Play.Catalyst,
			Timeframe:   string(req.Play.Timeframe),
			Priority:    req.Play.Priority,
			Tags:        req.Play.Tags,
			Price:       req.Snapshot.Price,
			Volatility:  req.Snapshot.Volatility,
			VolumeRatio: req.Snapshot.VolumeRatio(),
			Trend:       string(req.Snapshot.Trend),
		})
		cancel()

		if err != nil {
			e.logger.Warn("模型评估失败，使用启发式结果",
				zap.String("symbol", req.Play.Symbol),
				zap.Error(err),
			)
		} else {
			assessment = Assessment{
				Strengths:     appraisal.Strengths,
				Weaknesses:    appraisal.Weaknesses,
				Opportunities: appraisal.Opportunities,
				Threats:       appraisal.Threats,
			}
			assessment.Score = scoreFromSignals(assessment)
			confidence = agreementConfidence(assessment.Score, heuristic.Score)
		}
	}

	assessment.Score = scoreFromSignals(assessment)
	assessment.Confidence = clamp01(confidence)

	profile := e.riskProfile(req, assessment.Confidence)

	e.logger.Info("剧本评估完成",
		zap.String("symbol", req.Play.Symbol),
		zap.Float64("score", assessment.Score),
		zap.Float64("confidence", assessment.Confidence),
		zap.Float64("risk_score", profile.Score),
		zap.String("risk_level", string(profile.Level)),
	)

	return assessment, profile
}

// heuristicAssessment 从快照信号推导四象限列表，完全确定性。
func (e *Engine) heuristicAssessment(p play.Play, snap market.Snapshot) Assessment {
	a := Assessment{
		Strengths:     make([]string, 0, 2),
		Weaknesses:    make([]string, 0, 2),
		Opportunities: make([]string, 0, 2),
		Threats:       make([]string, 0, 2),
	}

	trendAligned := (p.Side == play.SideLong && snap.Trend == market.TrendUp) ||
		(p.Side == play.SideShort && snap.Trend == market.TrendDown)
	switch {
	case trendAligned:
		a.Strengths = append(a.Strengths, "趋势方向与剧本一致")
	case snap.Trend == market.TrendFlat:
		a.Weaknesses = append(a.Weaknesses, "趋势方向不明确")
	default:
		a.Weaknesses = append(a.Weaknesses, "趋势方向与剧本相反")
	}

	if snap.Volatility >= highVolatility {
		a.Threats = append(a.Threats, fmt.Sprintf("近期波动率偏高 (%.2f%%)", snap.Volatility*100))
	} else if snap.Volatility > 0 {
		a.Strengths = append(a.Strengths, "波动率处于温和区间")
	}

	ratio := snap.VolumeRatio()
	switch {
	case ratio >= volumeExpansion:
		a.Opportunities = append(a.Opportunities, "成交量相对均量放大")
	case ratio > 0 && ratio <= volumeShrink:
		a.Threats = append(a.Threats, "成交量相对均量萎缩")
	}

	if p.Catalyst != "" {
		a.Opportunities = append(a.Opportunities, "存在明确催化因素: "+p.Catalyst)
	}
	if p.Priority >= 8 {
		a.Strengths = append(a.Strengths, "剧本优先级高")
	}

	a.Score = scoreFromSignals(a)
	return a
}

// riskProfile 计算量化风险画像，输入相同则输出必然相同。
// 信心风险优先取交易者自报值，未申报时退回评估信心度。
func (e *Engine) riskProfile(req Request, confidence float64) RiskProfile {
	notional := req.Quantity * req.Snapshot.Price

	if req.DeclaredConfidence > 0 {
		confidence = req.DeclaredConfidence
	}

	exposure := clamp01(safeRatio(notional, e.cfg.CapitalBase))
	volatility := clamp01(safeRatio(req.Snapshot.Volatility, e.cfg.VolatilityCeiling))
	concentration := clamp01(safeRatio(notional, e.cfg.MaxNotional))
	confidenceRisk := clamp01(1 - confidence)

	score := weightExposure*exposure +
		weightVolatility*volatility +
		weightConcentration*concentration +
		weightConfidence*confidenceRisk

	maxLossPct := req.MaxLossPct
	if maxLossPct <= 0 {
		maxLossPct = 0.05
	}

	return RiskProfile{
		Level:             LevelForScore(score),
		MaxLossAmount:     notional * maxLossPct,
		MaxLossPercent:    maxLossPct,
		Volatility:        req.Snapshot.Volatility,
		Concentration:     concentration,
		ExposureRisk:      exposure,
		VolatilityRisk:    volatility,
		ConcentrationRisk: concentration,
		ConfidenceRisk:    confidenceRisk,
		Score:             score,
	}
}

// scoreFromSignals 计算总分：正负信号数量之差，按总数归一化到[-1,1]。
func scoreFromSignals(a Assessment) float64 {
	positive := len(a.Strengths) + len(a.Opportunities)
	negative := len(a.Weaknesses) + len(a.Threats)
	total := positive + negative
	if total == 0 {
		return 0
	}
	return float64(positive-negative) / float64(total)
}

// agreementConfidence 在两条路径同号时给出更高信心度，反之压低。
func agreementConfidence(providerScore, heuristicScore float64) float64 {
	if providerScore == 0 || heuristicScore == 0 {
		return 0.5
	}
	if (providerScore > 0) == (heuristicScore > 0) {
		avgMagnitude := (abs(providerScore) + abs(heuristicScore)) / 2
		return 0.6 + 0.3*avgMagnitude
	}
	return 0.35
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func safeRatio(a, b float64) float64 {
	if b <= 0 {
		return 0
	}
	return a / b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
