// Package llm 通过 OpenAI 兼容的聊天接口实现 AI 生成内容检测。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"plagcheck-go/internal/config"
	"plagcheck-go/pkg/log"
	"strings"
)

// ErrUnavailable 表示检测服务未配置或无法连通，调用方应跳过检测而不是判定失败。
var ErrUnavailable = errors.New("ai detector unavailable")

// maxInputRunes 是送入模型的最大字符数。
const maxInputRunes = 4000

const systemPrompt = "你是一个专业的 AI 内容检测系统，只输出合法的 JSON。"

const userPromptTemplate = `分析以下文本是否为 AI 生成的内容。
请以 JSON 格式回复，包含以下字段：
- "score": 0.0（人工撰写）到 1.0（AI 生成）之间的浮点数，表示 AI 生成的概率。
- "reasoning": 简要解释判断依据。

文本：
%s`

// Detection 是一次 AI 生成检测的结果。
type Detection struct {
	Score      float64        `json:"score"`
	IsAI       bool           `json:"is_ai"`
	Confidence float64        `json:"confidence"`
	Label      string         `json:"label"`
	Provider   string         `json:"provider"`
	Details    map[string]any `json:"details"`
}

// Health 描述检测服务的配置状态。
type Health struct {
	Status        string `json:"status"`
	APIConfigured bool   `json:"api_configured"`
	Model         string `json:"model,omitempty"`
}

// Detector 调用大模型判断文本是否为 AI 生成。
type Detector struct {
	cfg    config.AIConfig
	client *http.Client
}

// NewDetector creates a new detector from the config.
func NewDetector(cfg config.AIConfig) *Detector {
	return &Detector{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Available 只反映是否配置了 API Key，不发起请求。
func (d *Detector) Available() bool {
	return d.cfg.APIKey != "" && d.cfg.BaseURL != ""
}

func (d *Detector) Model() string {
	return d.cfg.Model
}

func (d *Detector) Health() Health {
	if !d.Available() {
		return Health{Status: "unavailable"}
	}
	return Health{Status: "healthy", APIConfigured: true, Model: d.cfg.Model}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Detect 检测文本，score 大于 threshold 判定为 AI 生成。
// 未配置、网络错误或服务端 5xx 返回 ErrUnavailable。
func (d *Detector) Detect(ctx context.Context, text string, threshold float64) (*Detection, error) {
	if !d.Available() {
		return nil, ErrUnavailable
	}

	reqBody := chatRequest{
		Model: d.cfg.Model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, truncate(text, maxInputRunes))},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warnf("[Detector] 调用检测接口失败: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(body))
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, errors.New("chat api returned no choices")
	}

	var v verdict
	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("failed to parse detector verdict: %w", err)
	}
	score := 0.5
	if v.Score != nil {
		score = math.Max(0, math.Min(1, *v.Score))
	}
	return newDetection(score, threshold, v.Reasoning, d.cfg.Model), nil
}

func newDetection(score, threshold float64, reasoning, model string) *Detection {
	isAI := score > threshold
	label := "可能是人工撰写"
	if isAI {
		label = "可能是AI生成"
	}
	return &Detection{
		Score:      round4(score),
		IsAI:       isAI,
		Confidence: round4(math.Abs(score-0.5) * 2),
		Label:      label,
		Provider:   "api",
		Details:    map[string]any{"reasoning": reasoning, "model": model},
	}
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
