package base

import (
	"errors"
	"fmt"
)

// BlockType classifies which rule kind rejected an admission.
type BlockType int32

const (
	BlockTypeUnknown BlockType = iota
	BlockTypeFlow
	BlockTypeDegrade
	BlockTypeHotspot
	BlockTypeAuthority
	BlockTypeSystem
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeFlow:
		return "flow"
	case BlockTypeDegrade:
		return "degrade"
	case BlockTypeHotspot:
		return "hotspot"
	case BlockTypeAuthority:
		return "authority"
	case BlockTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

// BlockError is the typed signal returned instead of an Entry when a rule
// denies admission. It carries a snapshot of the rule that triggered and,
// for hot-parameter blocks, the offending value.
type BlockError struct {
	blockType     BlockType
	resourceName  string
	blockMsg      string
	rule          interface{}
	snapshotValue interface{}
}

// NewBlockError creates a block error for the given rule kind.
func NewBlockError(blockType BlockType, resourceName string, opts ...BlockErrorOption) *BlockError {
	e := &BlockError{blockType: blockType, resourceName: resourceName}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BlockErrorOption customizes a BlockError at construction.
type BlockErrorOption func(*BlockError)

// WithBlockMsg attaches a human-readable reason.
func WithBlockMsg(msg string) BlockErrorOption {
	return func(e *BlockError) { e.blockMsg = msg }
}

// WithRule attaches a snapshot of the triggered rule.
func WithRule(rule interface{}) BlockErrorOption {
	return func(e *BlockError) { e.rule = rule }
}

// WithSnapshotValue attaches the value that triggered the block (e.g. the
// hot parameter).
func WithSnapshotValue(v interface{}) BlockErrorOption {
	return func(e *BlockError) { e.snapshotValue = v }
}

// BlockType returns the rule kind that rejected the call.
func (e *BlockError) BlockType() BlockType { return e.blockType }

// ResourceName returns the blocked resource.
func (e *BlockError) ResourceName() string { return e.resourceName }

// TriggeredRule returns the rule snapshot, if attached.
func (e *BlockError) TriggeredRule() interface{} { return e.rule }

// TriggeredValue returns the triggering value, if attached.
func (e *BlockError) TriggeredValue() interface{} { return e.snapshotValue }

func (e *BlockError) Error() string {
	if e.blockMsg != "" {
		return fmt.Sprintf("sluice: %s blocked on %s: %s", e.blockType, e.resourceName, e.blockMsg)
	}
	return fmt.Sprintf("sluice: %s blocked on %s", e.blockType, e.resourceName)
}

// PriorityWaitError is the internal signal raised when a prioritized request
// was admitted by occupying future window capacity. The statistic slot
// converts it into a successful admission; it never escapes the entry API.
type PriorityWaitError struct {
	waitMs int64
}

// NewPriorityWaitError creates the signal with the slept duration.
func NewPriorityWaitError(waitMs int64) *PriorityWaitError {
	return &PriorityWaitError{waitMs: waitMs}
}

// WaitMs returns how long the admission waited.
func (e *PriorityWaitError) WaitMs() int64 { return e.waitMs }

func (e *PriorityWaitError) Error() string {
	return fmt.Sprintf("sluice: priority wait %dms", e.waitMs)
}

// ErrEntryNotOnTop is the error-entry-free fault: Exit was called on an
// entry that is not on top of its context's stack. The stack is unwound down
// to the offending entry before this is returned; it indicates a programming
// error in the caller.
var ErrEntryNotOnTop = errors.New("sluice: entry exited out of LIFO order")

// IsBlockError reports whether err is an admission block and returns it.
func IsBlockError(err error) (*BlockError, bool) {
	var be *BlockError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
