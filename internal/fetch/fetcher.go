package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxJitter 是每次退避附加随机抖动的上界（不含），避免多个实例同步重试。
const MaxJitter = 100 * time.Millisecond

// maxBackoffShift 限制 2^attempt 的位移，防止 Duration 溢出。
const maxBackoffShift = 30

// Operation 代表一次上游读取。实现应尊重 ctx 的取消，但 Fetcher 不依赖这一点。
type Operation[T any] func(ctx context.Context) (T, error)

// Options 控制单次超时与重试退避。
type Options struct {
	// Timeout 是每次尝试的硬性上限。
	Timeout time.Duration
	// MaxRetries 是首次尝试之外允许的重试次数，总尝试次数为 MaxRetries+1。
	MaxRetries int
	// BackoffBase 是指数退避的基数：第 i 次失败后等待 BackoffBase*2^i + jitter。
	BackoffBase time.Duration
}

// Fetcher 为 Operation 加上超时竞争与有界重试，本身无共享可变状态。
type Fetcher[T any] struct {
	op     Operation[T]
	opts   Options
	logger logrus.FieldLogger

	jitter func() time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

type attemptResult[T any] struct {
	value T
	err   error
}

// New 校验参数并构造 Fetcher；logger 为空时丢弃日志。
func New[T any](op Operation[T], opts Options, logger logrus.FieldLogger) (*Fetcher[T], error) {
	if op == nil {
		return nil, errors.New("fetch operation is required")
	}
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("invalid fetch timeout: %s", opts.Timeout)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries: %d", opts.MaxRetries)
	}
	if opts.BackoffBase < 0 {
		return nil, fmt.Errorf("invalid backoff base: %s", opts.BackoffBase)
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Fetcher[T]{
		op:     op,
		opts:   opts,
		logger: logger,
		jitter: randomJitter,
		sleep:  sleepContext,
	}, nil
}

// Options 返回构造时的参数副本。
func (f *Fetcher[T]) Options() Options {
	return f.opts
}

// Fetch 依次尝试 Operation，直到成功或重试耗尽。重试耗尽时返回最后一次的
// *TimeoutError 或 *UpstreamError；ctx 被取消时直接返回 ctx.Err()。
func (f *Fetcher[T]) Fetch(ctx context.Context) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		value, err := f.attempt(ctx, attempt)
		if err == nil {
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if attempt >= f.opts.MaxRetries {
			return zero, err
		}

		delay := withJitter(Backoff(f.opts.BackoffBase, attempt), f.jitter())
		f.logRetry(attempt, delay, err)
		if err := f.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// attempt 让 Operation 与计时器赛跑。计时器先触发时本次失败，迟到的结果写入
// 缓冲通道后被丢弃；任何退出路径都会停止计时器并取消 attemptCtx。
func (f *Fetcher[T]) attempt(ctx context.Context, attempt int) (T, error) {
	var zero T

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		var res attemptResult[T]
		defer func() {
			if r := recover(); r != nil {
				res = attemptResult[T]{err: fmt.Errorf("panic: %v", r)}
			}
			done <- res
		}()
		res.value, res.err = f.op(attemptCtx)
	}()

	timer := time.NewTimer(f.opts.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return zero, &UpstreamError{Attempt: attempt, Err: res.err}
		}
		return res.value, nil
	case <-timer.C:
		return zero, &TimeoutError{Attempt: attempt, Timeout: f.opts.Timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (f *Fetcher[T]) logRetry(attempt int, delay time.Duration, err error) {
	f.logger.WithFields(logrus.Fields{
		"action":       "fetch_retry",
		"attempt":      attempt,
		"next_attempt": attempt + 1,
		"max_retries":  f.opts.MaxRetries,
		"delay_ms":     delay.Milliseconds(),
		"timeout":      errors.Is(err, ErrTimeout),
		"error":        err.Error(),
	}).Warn("fetch_retry")
}

// Backoff 返回第 attempt 次失败后的基础等待时间 base*2^attempt（不含抖动），
// 溢出时饱和到最大 Duration。
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	if base > time.Duration(math.MaxInt64>>attempt) {
		return time.Duration(math.MaxInt64)
	}
	return base << attempt
}

func withJitter(delay, jitter time.Duration) time.Duration {
	if delay > time.Duration(math.MaxInt64)-jitter {
		return time.Duration(math.MaxInt64)
	}
	return delay + jitter
}

func randomJitter() time.Duration {
	return rand.N(MaxJitter)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
