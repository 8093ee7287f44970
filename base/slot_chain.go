package base

import "github.com/Resinat/Sluice/logging"

// EntryContext bundles everything one admission carries through the chain.
type EntryContext struct {
	Ctx         *Context
	Resource    *Resource
	Entry       *Entry
	Count       uint32
	Prioritized bool
	Args        []interface{}
}

// NextFunc forwards an admission to the remaining slots of the chain.
type NextFunc func() error

// Slot is one stage of the per-resource pipeline. Entry runs front-to-back
// with each slot deciding whether to forward via next; Exit runs
// back-to-front on release. Entry returns nil on pass, a *BlockError on
// rejection, or a *PriorityWaitError for the internal priority-wait signal.
type Slot interface {
	Name() string
	Entry(ec *EntryContext, next NextFunc) error
	Exit(ec *EntryContext)
}

// SlotChain is the ordered pipeline shared by every admission of one
// resource.
type SlotChain struct {
	slots []Slot
}

// NewSlotChain builds a chain with the given slot order.
func NewSlotChain(slots ...Slot) *SlotChain {
	return &SlotChain{slots: slots}
}

// Entry threads the admission through the chain.
func (c *SlotChain) Entry(ec *EntryContext) error {
	return c.entryFrom(0, ec)
}

func (c *SlotChain) entryFrom(i int, ec *EntryContext) error {
	if i >= len(c.slots) {
		return nil
	}
	return c.slots[i].Entry(ec, func() error {
		return c.entryFrom(i+1, ec)
	})
}

// Exit runs every slot's exit hook back-to-front.
func (c *SlotChain) Exit(ec *EntryContext) {
	for i := len(c.slots) - 1; i >= 0; i-- {
		c.slots[i].Exit(ec)
	}
}

// SafeCheck runs one rule evaluation, converting a panic inside the check
// into a pass so a broken rule cannot take down the application. The panic
// is logged with slot and resource identity.
func SafeCheck(slot, resource string, check func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Default().
				WithField("slot", slot).
				WithField("resource", resource).
				Errorf("rule check panicked, treating as pass: %v", r)
			err = nil
		}
	}()
	return check()
}
