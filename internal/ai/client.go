package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"plays-ai/internal/config"
)

// Client 封装 OpenAI 调用逻辑。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	sdkConfig.HTTPClient = httpClient
	client := openai.NewClientWithConfig(sdkConfig)

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    client,
	}, nil
}

// InterpretPlay 请求模型将剧本文本解读为结构化字段。
func (c *Client) InterpretPlay(ctx context.Context, req InterpretRequest) (Interpretation, error) {
	prompt, err := BuildInterpretPrompt(req)
	if err != nil {
		return Interpretation{}, err
	}

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return Interpretation{}, err
	}

	var interp Interpretation
	if err := unmarshalPayload(raw, &interp); err != nil {
		c.logger.Error("解析剧本解读失败",
			zap.Error(err),
			zap.String("raw_content", raw),
		)
		return Interpretation{}, err
	}

	if err := interp.Validate(); err != nil {
		return Interpretation{}, err
	}

	c.logger.Info("剧本解读生成成功",
		zap.String("symbol", req.Symbol),
		zap.String("side", interp.Side),
		zap.String("timeframe", interp.Timeframe),
		zap.Int("priority", interp.Priority),
	)

	return interp, nil
}

// AppraisePlay 请求模型对剧本给出四象限评估。
func (c *Client) AppraisePlay(ctx context.Context, req AppraiseRequest) (Appraisal, error) {
	prompt, err := BuildAppraisePrompt(req)
	if err != nil {
		return Appraisal{}, err
	}

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return Appraisal{}, err
	}

	var appraisal Appraisal
	if err := unmarshalPayload(raw, &appraisal); err != nil {
		c.logger.Error("解析剧本评估失败",
			zap.Error(err),
			zap.String("raw_content", raw),
		)
		return Appraisal{}, err
	}

	if err := appraisal.Validate(); err != nil {
		return Appraisal{}, err
	}

	return appraisal, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	if c.cfg.Model == "" {
		return "", errors.New("openai model 不能为空")
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return "", fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return "", errors.New("OpenAI 返回内容为空")
	}

	return rawContent, nil
}

func unmarshalPayload(content string, target interface{}) error {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(jsonPayload, target); err != nil {
		return fmt.Errorf("解析模型JSON失败: %w", err)
	}

	return nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
