package assess

// Assessment 为剧本的定性评估：四象限列表加总分与信心度。
// 总分与信心度永远被填充，模型不可用时由启发式路径兜底。
type Assessment struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
	Score         float64  `json:"score"`      // [-1,1]
	Confidence    float64  `json:"confidence"` // [0,1]
}

// RiskLevel 表示分档后的风险等级，low < medium < high < extreme。
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskExtreme RiskLevel = "extreme"
)

// Rank 返回等级序号，便于比较。
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskExtreme:
		return 3
	default:
		return -1
	}
}

// RequiresApproval 判断该等级是否需要人工审批。
func (l RiskLevel) RequiresApproval() bool {
	return l == RiskHigh || l == RiskExtreme
}

// RiskProfile 为剧本的量化风险画像。
// Score 是子指标的确定性加权和，绝不独立赋值，同样输入必得同样输出。
type RiskProfile struct {
	Level             RiskLevel `json:"level"`
	MaxLossAmount     float64   `json:"max_loss_amount"`
	MaxLossPercent    float64   `json:"max_loss_percent"`
	Volatility        float64   `json:"volatility"`
	Concentration     float64   `json:"concentration"`
	ExposureRisk      float64   `json:"exposure_risk"`
	VolatilityRisk    float64   `json:"volatility_risk"`
	ConcentrationRisk float64   `json:"concentration_risk"`
	ConfidenceRisk    float64   `json:"confidence_risk"`
	Score             float64   `json:"score"` // [0,1]
}

// 风险评分的固定权重与分档阈值。
const (
	weightExposure      = 0.4
	weightVolatility    = 0.3
	weightConcentration = 0.2
	weightConfidence    = 0.1

	thresholdExtreme = 0.75
	thresholdHigh    = 0.50
	thresholdMedium  = 0.25
)

// LevelForScore 将风险评分映射到等级，映射完整且无间隙。
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= thresholdExtreme:
		return RiskExtreme
	case score >= thresholdHigh:
		return RiskHigh
	case score >= thresholdMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}
