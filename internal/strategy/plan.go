// Package strategy turns classifier decisions into execution plans: which
// index layout the store uses and which concurrency control protocol runs
// on top of it.
package strategy

import (
	"errors"
	"fmt"

	"cc-classifier/internal/classifier"
)

// ErrInvalidDecision means a classifier returned a code that names no plan.
var ErrInvalidDecision = errors.New("invalid decision")

// Protocol is the concurrency control protocol.
type Protocol int

const (
	Partition Protocol = iota // partitioned CC, one worker per partition
	OCC
	Locking
)

func (p Protocol) String() string {
	switch p {
	case Partition:
		return "partition"
	case OCC:
		return "occ"
	case Locking:
		return "2pl"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// IndexLayout is how the store's index is laid out across workers.
type IndexLayout int

const (
	PartitionedIndex IndexLayout = iota
	SharedIndex
)

func (l IndexLayout) String() string {
	if l == SharedIndex {
		return "shared"
	}
	return "partitioned"
}

// Plan is the execution configuration the engine runs.
type Plan struct {
	Index    IndexLayout `json:"index"`
	Protocol Protocol    `json:"protocol"`
	Fallback bool        `json:"fallback,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

func (p Plan) String() string {
	s := p.Protocol.String() + "/" + p.Index.String()
	if p.Fallback {
		s += " (fallback: " + p.Reason + ")"
	}
	return s
}

// Same reports whether two plans run the same configuration.
func (p Plan) Same(o Plan) bool {
	return p.Index == o.Index && p.Protocol == o.Protocol
}

// ExecType is the combined classifier's code for p: the protocol on a
// partitioned index, the protocol plus two on a shared one.
func (p Plan) ExecType() int {
	if p.Index == SharedIndex {
		return int(p.Protocol) + 2
	}
	return int(p.Protocol)
}

// FromExecType decodes a combined classifier result.
func FromExecType(execType int) (Plan, error) {
	switch {
	case execType < 0 || execType > 4:
		return Plan{}, fmt.Errorf("%w: execution type %d out of range", ErrInvalidDecision, execType)
	case execType == 0:
		return Plan{Index: PartitionedIndex, Protocol: Partition}, nil
	case execType > 2:
		return Plan{Index: SharedIndex, Protocol: Protocol(execType - 2)}, nil
	}
	return Plan{Index: PartitionedIndex, Protocol: Protocol(execType)}, nil
}

// Apply interprets decision d of the given kind relative to the current
// plan. Single-purpose decisions only change what they decide: an OCC
// decision picks the protocol (3 keeps whichever of OCC and locking is
// running), a partition decision picks partitioned CC or leaves the
// protocol to a later OCC decision.
func Apply(kind classifier.DecisionKind, d classifier.Decision, current Plan) (Plan, error) {
	switch kind {
	case classifier.Combined:
		return FromExecType(int(d))

	case classifier.Partition:
		switch d {
		case 0:
			return Plan{Index: PartitionedIndex, Protocol: Partition}, nil
		case 1:
			next := current
			next.Fallback, next.Reason = false, ""
			if next.Protocol == Partition {
				next.Protocol = OCC
			}
			return next, nil
		}

	case classifier.OCC:
		next := current
		next.Fallback, next.Reason = false, ""
		switch d {
		case 1:
			next.Protocol = OCC
			return next, nil
		case 2:
			next.Protocol = Locking
			return next, nil
		case 3:
			if next.Protocol == Partition {
				next.Protocol = OCC
			}
			return next, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: %s decision %d", ErrInvalidDecision, kind, d)
}
