// Package base defines resource identity, the entry/context lifecycle, block
// errors, and the slot-chain framework that every protection check plugs into.
package base

import "fmt"

// TrafficType describes the direction of a resource relative to the process.
type TrafficType int32

const (
	// Outbound marks calls the process makes to downstream dependencies.
	Outbound TrafficType = iota
	// Inbound marks calls arriving from upstream; only inbound entries are
	// subject to the global system guard.
	Inbound
)

func (t TrafficType) String() string {
	switch t {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return fmt.Sprintf("traffic-type-%d", int32(t))
	}
}

// Resource identifies a protected call site. Equality and hashing use Name
// only; the traffic type is metadata.
type Resource struct {
	name        string
	trafficType TrafficType
}

// NewResource creates a resource wrapper.
func NewResource(name string, trafficType TrafficType) *Resource {
	return &Resource{name: name, trafficType: trafficType}
}

// Name returns the resource identity.
func (r *Resource) Name() string {
	return r.name
}

// TrafficType returns the resource direction.
func (r *Resource) TrafficType() TrafficType {
	return r.trafficType
}

func (r *Resource) String() string {
	return fmt.Sprintf("Resource{name=%s, type=%s}", r.name, r.trafficType)
}
