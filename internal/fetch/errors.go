package fetch

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout 表示单次尝试超过了 Timeout。
var ErrTimeout = errors.New("fetch attempt timed out")

// TimeoutError 记录超时发生在第几次尝试，errors.Is(err, ErrTimeout) 成立。
type TimeoutError struct {
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d: timed out after %s", e.Attempt, e.Timeout)
}

// Is 让 TimeoutError 与 ErrTimeout 等价。
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// UpstreamError 包装上游操作返回的非超时错误。
type UpstreamError struct {
	Attempt int
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
