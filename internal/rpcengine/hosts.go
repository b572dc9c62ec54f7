// Package rpcengine implements the RPC context (rpc_host_file /
// rpc_host_names / rpc_protocol / rpc_domain / rpc_port config keys) and the
// gRPC-based transport the remote queue plugin (internal/remote) dispatches
// tasks over. Grounded in
// original_source/include/labstor/network/rpc.h (RpcContext, HostInfo,
// ParseHostfile, GetRpcAddress), with a gRPC client/server pair standing in
// for the original's libfabric transport.
package rpcengine

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// HostInfo names one cluster member, mirroring RpcContext::HostInfo.
type HostInfo struct {
	NodeID   ids.NodeId
	Hostname string
	IPAddr   string
}

// Context resolves node ids to network addresses for RPC dialing. Node ids
// are assigned by hostfile line order, 1-based, matching ParseHostfile's
// convention that node 0 never appears in a real config (0 is NullNode).
type Context struct {
	Protocol string
	Domain   string
	Port     int
	MyNodeID ids.NodeId
	Hosts    []HostInfo
}

// ParseHostfile reads one hostname per line, matching RpcContext::ParseHostfile.
// Blank lines and lines starting with '#' are skipped.
func ParseHostfile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rpcengine: opening hostfile %q: %w", path, err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

// NewContext builds a Context from an explicit host name list (already
// either read from a hostfile via ParseHostfile or supplied directly as
// rpc_host_names, per §6's config contract). Node ids are 1-based positions
// in hostNames; MyNodeID is resolved here by matching this host's local
// addresses against the list, per RpcContext::_FindThisHost (NullNode if
// none matches).
func NewContext(protocol, domain string, port int, hostNames []string) (*Context, error) {
	c := &Context{Protocol: protocol, Domain: domain, Port: port}
	for i, name := range hostNames {
		ip, err := resolveIP(name)
		if err != nil {
			return nil, fmt.Errorf("rpcengine: resolving host %q: %w", name, err)
		}
		c.Hosts = append(c.Hosts, HostInfo{
			NodeID:   ids.NodeId(i + 1),
			Hostname: name,
			IPAddr:   ip,
		})
	}
	c.MyNodeID = c.findThisHost()
	return c, nil
}

func resolveIP(hostname string) (string, error) {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for host %q: %w", hostname, err)
	}
	return addrs[0], nil
}

// findThisHost matches local interface addresses against the host list,
// mirroring RpcContext::_FindThisHost / _IsAddressLocal.
func (c *Context) findThisHost() ids.NodeId {
	local := localAddresses()
	for _, h := range c.Hosts {
		if _, ok := local[h.IPAddr]; ok {
			return h.NodeID
		}
	}
	return ids.NullNode
}

func localAddresses() map[string]struct{} {
	out := make(map[string]struct{})
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, addr := range ifaces {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		out[ipNet.IP.String()] = struct{}{}
	}
	return out
}

// GetNumHosts returns the cluster size.
func (c *Context) GetNumHosts() int { return len(c.Hosts) }

// HostFor resolves a node id to its HostInfo. ok is false for an unknown id.
func (c *Context) HostFor(node ids.NodeId) (HostInfo, bool) {
	for _, h := range c.Hosts {
		if h.NodeID == node {
			return h, true
		}
	}
	return HostInfo{}, false
}

// RpcAddress returns the dial target for node, matching
// RpcContext::GetRpcAddress (protocol left implicit; gRPC always dials TCP
// here since this port has no libfabric binding).
func (c *Context) RpcAddress(node ids.NodeId) (string, error) {
	h, ok := c.HostFor(node)
	if !ok {
		return "", fmt.Errorf("rpcengine: unknown node id %d", node)
	}
	return fmt.Sprintf("%s:%d", h.IPAddr, c.Port), nil
}

// MyRpcAddress returns the listen address this process should bind, per
// GetMyRpcAddress.
func (c *Context) MyRpcAddress() (string, error) {
	return c.RpcAddress(c.MyNodeID)
}
