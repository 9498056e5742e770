package market

import (
	"errors"
	"fmt"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"空错误不可重试", nil, false},
		{"网络错误可重试", &ccxt.Error{Type: ccxt.NetworkErrorErrType}, true},
		{"限频可重试", &ccxt.Error{Type: ccxt.RateLimitExceededErrType}, true},
		{"响应异常可重试", &ccxt.Error{Type: ccxt.BadResponseErrType}, true},
		{"维护中不可重试", &ccxt.Error{Type: ccxt.OnMaintenanceErrType}, false},
		{"包装后的网络错误可重试", fmt.Errorf("拉取K线失败: %w", &ccxt.Error{Type: ccxt.RequestTimeoutErrType}), true},
		{"普通错误不可重试", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, 期望 %v", tt.err, got, tt.want)
			}
		})
	}
}
