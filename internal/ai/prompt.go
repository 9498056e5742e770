package ai

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const interpretTemplate = `
你是一个专业的自由裁量交易员助手。你的任务是把一段非结构化的交易想法（play）解读为结构化字段。

标的: {{ .Symbol }}

交易想法原文：
{{ .Description }}

请严格输出唯一的 JSON 对象，格式如下：
{
  "side": "LONG|SHORT",                    // 方向，做多或做空
  "timeframe": "INTRADAY|SWING|POSITION|LONGTERM", // 时间跨度分类
  "priority": 1-10,                        // 优先级，10 为最高
  "thesis": "...",                        // 一句话概括交易论点
  "catalysts": ["..."],                   // 催化因素列表
  "risks": ["..."],                       // 主要风险列表
  "tags": ["..."],                        // 主题标签（如 breakout、earnings、momentum）
  "entry_plan": "...",                    // 建仓策略描述
  "exit_plan": "..."                      // 离场策略描述
}

注意事项：
- 原文未明确方向时，根据语义倾向推断，不允许留空。
- 所有字段均需填写；tags 至少给出一个标签。
`

const appraiseTemplate = `
你是一个专业的交易风险评估员。请针对下面的交易剧本给出优势/劣势/机会/威胁四象限评估。

剧本信息：
- 标的: {{ .Symbol }}
- 方向: {{ .Side }}
- 论点: {{ .Thesis }}
- 催化: {{ .Catalyst }}
- 时间跨度: {{ .Timeframe }}
- 优先级: {{ .Priority }}
- 标签: {{ .TagsJoined }}

当前市场观测：
- 最新价格: {{ printf "%.4f" .Price }}
- 相对波动率: {{ printf "%.4f" .Volatility }}
- 量比（当前/均量）: {{ printf "%.2f" .VolumeRatio }}
- 趋势方向: {{ .Trend }}

请严格输出唯一的 JSON 对象，格式如下：
{
  "strengths": ["..."],       // 支撑该剧本的优势信号
  "weaknesses": ["..."],      // 削弱该剧本的劣势信号
  "opportunities": ["..."],   // 潜在的有利变化
  "threats": ["..."],         // 潜在的不利变化
  "confidence": 0.0-1.0        // 对本次评估本身的信心度
}

注意事项：
- 四个列表允许为空数组，但不允许四项全空。
- 每条结论应简短、可核对，不要输出列表之外的解释文字。
`

var (
	interpretTmpl = template.Must(template.New("interpret").Parse(interpretTemplate))
	appraiseTmpl  = template.Must(template.New("appraise").Parse(appraiseTemplate))
)

type appraiseContext struct {
	AppraiseRequest
	TagsJoined string
}

// BuildInterpretPrompt 将剧本原文渲染成提示词字符串。
func BuildInterpretPrompt(req InterpretRequest) (string, error) {
	var buf bytes.Buffer
	if err := interpretTmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("渲染解读提示词失败: %w", err)
	}
	return buf.String(), nil
}

// BuildAppraisePrompt 将剧本与市场观测渲染成提示词字符串。
func BuildAppraisePrompt(req AppraiseRequest) (string, error) {
	ctx := appraiseContext{
		AppraiseRequest: req,
		TagsJoined:      strings.Join(req.Tags, ", "),
	}

	var buf bytes.Buffer
	if err := appraiseTmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("渲染评估提示词失败: %w", err)
	}
	return buf.String(), nil
}
