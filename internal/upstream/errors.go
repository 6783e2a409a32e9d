package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrShapeUnrecognized 表示响应中没有任何配置的路径命中。
var ErrShapeUnrecognized = errors.New("upstream response shape unrecognized")

// StatusError 表示上游返回了非 2xx 状态。
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("upstream status %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}
