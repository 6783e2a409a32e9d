package swr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Source 描述一次 Get 的结果来自哪条路径。
type Source string

const (
	SourceFresh       Source = "fresh"
	SourceStale       Source = "stale"
	SourceRevalidated Source = "revalidated"
	SourceLive        Source = "live"
)

// Loader 是 Cache 唯一依赖的能力：从上游拿一份新数据。*fetch.Fetcher 满足该接口。
type Loader[T any] interface {
	Fetch(ctx context.Context) (T, error)
}

// Options 描述新鲜窗口与陈旧窗口。
type Options struct {
	// FreshTTL 内直接返回缓存，不做任何上游工作。
	FreshTTL time.Duration
	// StaleExtension 是 FreshTTL 之后仍可返回缓存、同时后台刷新的时长。
	StaleExtension time.Duration
}

// Option 调整 Cache 的可选行为。
type Option func(*settings)

type settings struct {
	now  func() time.Time
	name string
}

// WithClock 替换时钟，测试中用于推进时间。
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithName 为日志字段设置缓存名称（通常是 endpoint 名）。
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// Info 是某一时刻的缓存状态快照，供诊断接口使用。
type Info struct {
	HasValue     bool
	FetchedAt    time.Time
	FreshUntil   time.Time
	StaleUntil   time.Time
	Revalidating bool
	Stats        Stats
}

// Cache 持有单个上游值及其新鲜度窗口。entry 只在 mu 保护下变更，
// 任何调用方都看不到“值已替换但窗口未更新”的中间状态。
type Cache[T any] struct {
	loader Loader[T]
	opts   Options
	logger logrus.FieldLogger
	now    func() time.Time
	name   string

	mu    sync.Mutex
	entry entry[T]

	stats counters
}

type entry[T any] struct {
	value      T
	hasValue   bool
	fetchedAt  time.Time
	freshUntil time.Time
	staleUntil time.Time
	// flight 非空表示有一次拉取正在进行（前台或后台），所有需要等待的调用方共享它。
	flight *pending[T]
}

// pending 是一次进行中的拉取。value/err 在 done 关闭前写入，关闭后只读。
type pending[T any] struct {
	done       chan struct{}
	background bool
	value      T
	err        error
}

// New 构造 Cache；loader 不能为空，窗口不能为负。
func New[T any](loader Loader[T], opts Options, logger logrus.FieldLogger, options ...Option) (*Cache[T], error) {
	if loader == nil {
		return nil, errors.New("cache loader is required")
	}
	if opts.FreshTTL < 0 {
		return nil, fmt.Errorf("invalid fresh ttl: %s", opts.FreshTTL)
	}
	if opts.StaleExtension < 0 {
		return nil, fmt.Errorf("invalid stale extension: %s", opts.StaleExtension)
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	s := settings{now: time.Now}
	for _, opt := range options {
		opt(&s)
	}

	return &Cache[T]{
		loader: loader,
		opts:   opts,
		logger: logger,
		now:    s.now,
		name:   s.name,
	}, nil
}

// Get 返回当前数据及其来源：
//   - fresh：新鲜窗口内，直接返回；
//   - stale：陈旧窗口内，立即返回旧值，并在没有进行中拉取时启动后台刷新；
//   - revalidated：无可用值但已有拉取在进行，等待其结果；
//   - live：无可用值且无进行中拉取，由本次调用发起前台拉取并等待。
//
// 前台或等待的拉取失败时返回 *FetchFailedError；ctx 取消只结束本次等待，
// 不影响进行中的拉取。
func (c *Cache[T]) Get(ctx context.Context) (T, Source, error) {
	var zero T

	c.mu.Lock()
	now := c.now()
	e := &c.entry

	switch {
	case e.hasValue && now.Before(e.freshUntil):
		value := e.value
		c.mu.Unlock()
		c.stats.fresh.Inc()
		return value, SourceFresh, nil

	case e.hasValue && now.Before(e.staleUntil):
		if e.flight == nil {
			e.flight = c.launchLocked(ctx, true)
		}
		value := e.value
		c.mu.Unlock()
		c.stats.stale.Inc()
		return value, SourceStale, nil

	case e.flight != nil:
		flight := e.flight
		c.mu.Unlock()
		c.stats.revalidated.Inc()
		value, err := c.wait(ctx, flight)
		if err != nil {
			return zero, "", err
		}
		return value, SourceRevalidated, nil

	default:
		flight := c.launchLocked(ctx, false)
		e.flight = flight
		c.mu.Unlock()
		c.stats.live.Inc()
		value, err := c.wait(ctx, flight)
		if err != nil {
			return zero, "", err
		}
		return value, SourceLive, nil
	}
}

// Peek 返回最近一次成功拉取的值与时间，不考虑窗口，供调用方做降级。
func (c *Cache[T]) Peek() (T, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry.value, c.entry.fetchedAt, c.entry.hasValue
}

// Info 返回当前状态快照。
func (c *Cache[T]) Info() Info {
	c.mu.Lock()
	info := Info{
		HasValue:     c.entry.hasValue,
		FetchedAt:    c.entry.fetchedAt,
		FreshUntil:   c.entry.freshUntil,
		StaleUntil:   c.entry.staleUntil,
		Revalidating: c.entry.flight != nil,
	}
	c.mu.Unlock()
	info.Stats = c.stats.snapshot()
	return info
}

// Stats 返回累计计数。
func (c *Cache[T]) Stats() Stats {
	return c.stats.snapshot()
}

// Options 返回窗口配置。
func (c *Cache[T]) Options() Options {
	return c.opts
}

// launchLocked 启动一次拉取。拉取运行在与请求解耦的 ctx 上，
// 发起请求的客户端断开不会让其他等待者失败。调用方必须持有 mu。
func (c *Cache[T]) launchLocked(ctx context.Context, background bool) *pending[T] {
	flight := &pending[T]{
		done:       make(chan struct{}),
		background: background,
	}
	c.stats.fetches.Inc()
	go c.run(context.WithoutCancel(ctx), flight)
	return flight
}

func (c *Cache[T]) run(ctx context.Context, flight *pending[T]) {
	value, err := c.load(ctx)

	c.mu.Lock()
	if err == nil {
		c.updateLocked(value)
	} else if c.entry.flight == flight {
		c.entry.flight = nil
	}
	c.mu.Unlock()

	if err != nil {
		c.logFailure(flight.background, err)
	}

	flight.value, flight.err = value, err
	close(flight.done)
}

// logFailure 记录拉取失败。后台刷新失败到此为止，不会传给任何调用方。
func (c *Cache[T]) logFailure(background bool, err error) {
	fields := logrus.Fields{
		"action":     "swr_revalidate",
		"cache":      c.name,
		"background": background,
		"error":      err.Error(),
	}
	if background {
		c.stats.backgroundFailures.Inc()
		c.logger.WithFields(fields).Warn("swr_revalidate_failed")
		return
	}
	c.stats.foregroundFailures.Inc()
	c.logger.WithFields(fields).Error("swr_fetch_failed")
}

func (c *Cache[T]) load(ctx context.Context) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panic: %v", r)
		}
	}()
	return c.loader.Fetch(ctx)
}

// updateLocked 是 entry 唯一的写入口：替换值、重算窗口并清除 flight。调用方必须持有 mu。
func (c *Cache[T]) updateLocked(value T) {
	now := c.now()
	e := &c.entry
	e.value = value
	e.hasValue = true
	e.fetchedAt = now
	e.freshUntil = now.Add(c.opts.FreshTTL)
	e.staleUntil = e.freshUntil.Add(c.opts.StaleExtension)
	e.flight = nil
}

func (c *Cache[T]) wait(ctx context.Context, flight *pending[T]) (T, error) {
	var zero T
	select {
	case <-flight.done:
	case <-ctx.Done():
		return zero, fmt.Errorf("wait for upstream fetch: %w", ctx.Err())
	}
	if flight.err != nil {
		return zero, &FetchFailedError{Err: flight.err}
	}
	return flight.value, nil
}
