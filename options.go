package sluice

import "github.com/Resinat/Sluice/base"

type entryOptions struct {
	trafficType base.TrafficType
	count       uint32
	args        []interface{}
	contextName string
	origin      string
	prioritized bool
	ctx         *base.Context
}

func defaultOptions() *entryOptions {
	return &entryOptions{
		trafficType: base.Outbound,
		count:       1,
	}
}

// Option customizes one admission.
type Option func(*entryOptions)

// WithTrafficType marks the entry inbound or outbound; only inbound entries
// face the global system guard.
func WithTrafficType(t base.TrafficType) Option {
	return func(o *entryOptions) { o.trafficType = t }
}

// WithBatchCount acquires count tokens at once.
func WithBatchCount(count uint32) Option {
	return func(o *entryOptions) { o.count = count }
}

// WithArgs carries the call arguments hot-parameter rules inspect.
func WithArgs(args ...interface{}) Option {
	return func(o *entryOptions) { o.args = args }
}

// WithContextName names the entrance when no explicit context is passed.
func WithContextName(name string) Option {
	return func(o *entryOptions) { o.contextName = name }
}

// WithOrigin declares the caller identity for authority and per-origin flow
// rules.
func WithOrigin(origin string) Option {
	return func(o *entryOptions) { o.origin = origin }
}

// WithPrioritized lets QPS-grade reject rules borrow capacity from the next
// window instead of failing.
func WithPrioritized() Option {
	return func(o *entryOptions) { o.prioritized = true }
}

// WithContext threads an explicit context through nested entries; without it
// each top-level entry runs under a fresh default context.
func WithContext(ctx *base.Context) Option {
	return func(o *entryOptions) { o.ctx = ctx }
}
