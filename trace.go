package sluice

import (
	"errors"

	"github.com/Resinat/Sluice/base"
	"github.com/Resinat/Sluice/node"
)

type traceOptions struct {
	count   uint32
	ignored []error
	traced  []error
}

// TraceOption customizes error recording.
type TraceOption func(*traceOptions)

// WithTraceCount records the error count times.
func WithTraceCount(count uint32) TraceOption {
	return func(o *traceOptions) { o.count = count }
}

// WithExceptionsToIgnore suppresses recording for errors matching any
// target (errors.Is).
func WithExceptionsToIgnore(targets ...error) TraceOption {
	return func(o *traceOptions) { o.ignored = append(o.ignored, targets...) }
}

// WithExceptionsToTrace restricts recording to errors matching some target;
// without it every non-ignored error records.
func WithExceptionsToTrace(targets ...error) TraceOption {
	return func(o *traceOptions) { o.traced = append(o.traced, targets...) }
}

// TraceError records a user error observed inside the protected call as
// exception traffic on the entry's nodes. Ignored errors are skipped
// entirely; when a trace list is present, only matching errors record.
func TraceError(entry *base.Entry, err error, opts ...TraceOption) {
	if entry == nil || err == nil {
		return
	}
	o := &traceOptions{count: 1}
	for _, opt := range opts {
		opt(o)
	}
	for _, target := range o.ignored {
		if errors.Is(err, target) {
			return
		}
	}
	if len(o.traced) > 0 {
		matched := false
		for _, target := range o.traced {
			if errors.Is(err, target) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}

	entry.SetError(err)
	if n := entry.CurNode(); n != nil {
		n.AddException(o.count)
	}
	if n := entry.OriginNode(); n != nil {
		n.AddException(o.count)
	}
	if entry.Resource().TrafficType() == base.Inbound {
		node.InboundNode().AddException(o.count)
	}
}
