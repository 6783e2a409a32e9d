package swr

import (
	"errors"
	"fmt"
)

// ErrFetchFailed 表示前台拉取在重试耗尽后仍失败，调用方可据此降级。
var ErrFetchFailed = errors.New("upstream fetch failed")

// FetchFailedError 包装最后一次拉取错误，errors.Is(err, ErrFetchFailed) 成立。
type FetchFailedError struct {
	Err error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrFetchFailed.Error(), e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// Is 让 FetchFailedError 与 ErrFetchFailed 等价。
func (e *FetchFailedError) Is(target error) bool {
	return target == ErrFetchFailed
}
