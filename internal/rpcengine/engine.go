package rpcengine

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lukemartinlogan/labstor/internal/ids"
)

// Engine is one node's RPC endpoint: a listening gRPC server for inbound
// dispatch and a pool of lazily-dialed client connections for outbound
// dispatch, matching RpcContext's dual client/server role (ServerInit binds
// the listener; GetRpcAddress resolves outbound targets).
type Engine struct {
	ctx    *Context
	server *grpc.Server
	lis    net.Listener

	mu      sync.Mutex
	clients map[ids.NodeId]*DispatchClient
}

// NewEngine constructs an engine bound to ctx's resolved host list but does
// not yet listen; call Serve to start accepting connections.
func NewEngine(ctx *Context) *Engine {
	return &Engine{ctx: ctx, clients: make(map[ids.NodeId]*DispatchClient)}
}

// Serve binds this node's RPC address and registers handler as the Dispatch
// implementation, returning once the listener is ready. The gRPC server
// itself runs in a background goroutine until Stop is called.
func (e *Engine) Serve(handler DispatchHandler) error {
	addr, err := e.ctx.MyRpcAddress()
	if err != nil {
		return fmt.Errorf("rpcengine: resolving listen address: %w", err)
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpcengine: listening on %s: %w", addr, err)
	}
	e.lis = lis
	e.server = grpc.NewServer()
	RegisterDispatchServer(e.server, handler)
	go e.server.Serve(lis)
	return nil
}

// Stop gracefully shuts down the listener and every outbound connection.
func (e *Engine) Stop() {
	if e.server != nil {
		e.server.GracefulStop()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clients {
		c.cc.Close()
	}
}

// clientFor returns (dialing if necessary) the client connection to node.
func (e *Engine) clientFor(node ids.NodeId) (*DispatchClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[node]; ok {
		return c, nil
	}
	addr, err := e.ctx.RpcAddress(node)
	if err != nil {
		return nil, err
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("rpcengine: dialing node %d at %s: %w", node, addr, err)
	}
	c := NewDispatchClient(cc)
	e.clients[node] = c
	return c, nil
}

// Dispatch sends req to node and returns its reply, matching §4.6's "small
// message" RPC path.
func (e *Engine) Dispatch(ctx context.Context, node ids.NodeId, req []byte) ([]byte, error) {
	c, err := e.clientFor(node)
	if err != nil {
		return nil, err
	}
	return c.Dispatch(ctx, req)
}
