package remote

import (
	"fmt"

	"github.com/serialx/hashring"

	"github.com/lukemartinlogan/labstor/internal/ids"
	"github.com/lukemartinlogan/labstor/internal/rpcengine"
)

// HostResolver is the default Resolver: DomainNode pins to the named node;
// DomainGlobal fans out to every cluster member, replicating the task to the
// whole ring rather than placing it on one node via the ring (the ring is
// still used to order that membership list deterministically per lane hash,
// so repeated calls for the same task see a stable node order).
type HostResolver struct {
	ctx  *rpcengine.Context
	ring *hashring.HashRing
}

// NewHostResolver builds a resolver over ctx's current host list.
func NewHostResolver(ctx *rpcengine.Context) *HostResolver {
	names := make([]string, 0, len(ctx.Hosts))
	for _, h := range ctx.Hosts {
		names = append(names, fmt.Sprintf("%d", h.NodeID))
	}
	return &HostResolver{ctx: ctx, ring: hashring.New(names)}
}

// Resolve implements Resolver.
func (r *HostResolver) Resolve(d ids.DomainId, laneHash uint32) ([]ids.NodeId, error) {
	switch d.Kind {
	case ids.DomainNode:
		return []ids.NodeId{d.Node}, nil
	case ids.DomainGlobal:
		return r.allNodesOrdered(laneHash)
	default:
		return nil, fmt.Errorf("remote: domain kind %v is not remote", d.Kind)
	}
}

// allNodesOrdered returns every node in the cluster, in the ring order
// anchored at laneHash, so a k-way replicate_start(k)/replicate_end() pair
// always sees the full membership (k == len(ctx.Hosts)) but a stable
// relative order across calls with the same hash.
func (r *HostResolver) allNodesOrdered(laneHash uint32) ([]ids.NodeId, error) {
	if len(r.ctx.Hosts) == 0 {
		return nil, fmt.Errorf("remote: hash ring is empty")
	}
	names, ok := r.ring.GetNodes(fmt.Sprintf("%d", laneHash), len(r.ctx.Hosts))
	if !ok {
		return nil, fmt.Errorf("remote: hash ring is empty")
	}
	nodes := make([]ids.NodeId, 0, len(names))
	for _, name := range names {
		var node ids.NodeId
		if _, err := fmt.Sscanf(name, "%d", &node); err != nil {
			return nil, fmt.Errorf("remote: malformed ring node name %q: %w", name, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
