// Package fallback 在没有任何版本化配置时调用旧版检测接口
package fallback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"wisefido-setpoint/internal/errs"
	"wisefido-setpoint/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// LegacyDetectPath 旧版检测接口路径
const LegacyDetectPath = "/api/v1/setpoint/legacy-detect"

// LegacyRequest 旧版检测请求
type LegacyRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LegacyErrorResponse 旧版接口错误响应
type LegacyErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// LegacyClient 旧版检测接口客户端
// 返回体与 RunResult 兼容，原样作为本次运行结果
type LegacyClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewLegacyClient 创建旧版检测客户端
// 重试由任务层统一处理，客户端自身不重试
func NewLegacyClient(baseURL string, timeout time.Duration, logger *zap.Logger) *LegacyClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout). // 旧版检测按整窗口批量计算，耗时较长
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &LegacyClient{
		httpClient: client,
		logger:     logger,
	}
}

// Detect 请求旧版接口对 window 做一次粗粒度检测
// 传输错误与 5xx 为 Transient，4xx 与响应无法解析为 Permanent
func (c *LegacyClient) Detect(ctx context.Context, window models.TimeWindow) (*models.RunResult, error) {
	c.logger.Info("Calling legacy setpoint detection",
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
	)

	var result models.RunResult
	var apiErr LegacyErrorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(LegacyRequest{Start: window.Start, End: window.End}).
		SetResult(&result).
		SetError(&apiErr).
		Post(LegacyDetectPath)

	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Permanent("legacy detect", ctx.Err())
		}
		c.logger.Error("Legacy detection call failed", zap.Error(err))
		return nil, errs.Transient("legacy detect", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= http.StatusInternalServerError:
		return nil, errs.Transientf("legacy detect", "server returned %d: %s", status, apiErr.Message)
	case status >= http.StatusBadRequest:
		return nil, errs.Permanentf("legacy detect", "request rejected with %d: %s", status, apiErr.Message)
	}

	if result.Status == "" {
		return nil, errs.Permanentf("legacy detect", "unexpected response body: %s", truncate(resp.String(), 200))
	}
	if result.RoomChanges == nil {
		result.RoomChanges = make(map[string]int)
	}
	if result.ErrorRooms == nil {
		result.ErrorRooms = []string{}
	}

	c.logger.Info("Legacy detection finished",
		zap.String("status", string(result.Status)),
		zap.Int("total_changes", result.TotalChanges),
	)
	return &result, nil
}

// Disabled 未部署旧版接口时的回退实现
type Disabled struct{}

// Detect 返回 Failed 结果，说明既没有配置也没有旧版检测路径
func (Disabled) Detect(ctx context.Context, window models.TimeWindow) (*models.RunResult, error) {
	result := models.NewRunResult(time.Now())
	result.Status = models.RunStatusFailed
	result.Error = fmt.Sprintf("no active point configs and no legacy detection endpoint configured (window %s - %s)",
		window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339))
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
