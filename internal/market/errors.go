package market

import (
	"errors"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrMaintenance 表示行情源处于维护状态，需要上层跳过本轮评估。
	ErrMaintenance = errors.New("market source on maintenance")

	// ErrStaleSnapshot 表示观测超过新鲜度窗口，本轮评估应跳过而不是按"无条件命中"处理。
	ErrStaleSnapshot = errors.New("market snapshot is stale")
)

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
