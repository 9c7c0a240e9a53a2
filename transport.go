package raft

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/raftkeep/raft/internal/errors"
)

// RequestHandler is implemented by the Raft member and invoked by a
// Transport whenever an inbound RPC arrives. The (request, response) error
// signature matches net/rpc's requirements so the same handler can be
// registered directly as an RPC service.
type RequestHandler interface {
	AppendEntries(request *AppendEntriesRequest, response *AppendEntriesResponse) error
	RequestVote(request *RequestVoteRequest, response *RequestVoteResponse) error
	InstallSnapshot(request *InstallSnapshotRequest, response *InstallSnapshotResponse) error
}

// Transport is the network adapter boundary raft depends on to exchange RPCs
// with its peers. It is an external collaborator: raft only depends on this
// interface, never on a specific wire protocol.
type Transport interface {
	// SetRequestHandler wires the local member's RPC handler into the
	// transport so that inbound requests are routed to it. Must be called
	// before Run.
	SetRequestHandler(handler RequestHandler)

	// Run starts accepting inbound requests at LocalAddr.
	Run() error

	// Close stops accepting inbound requests and closes any cached
	// outbound connections.
	Close() error

	// LocalAddr returns the address this transport listens on.
	LocalAddr() string

	AppendEntries(address string, request *AppendEntriesRequest, response *AppendEntriesResponse) error
	RequestVote(address string, request *RequestVoteRequest, response *RequestVoteResponse) error
	InstallSnapshot(address string, request *InstallSnapshotRequest, response *InstallSnapshotResponse) error
}

// localRegistry is the process-wide directory of localTransport instances,
// keyed by address, so that in-process peers can reach one another without
// going over the network.
var localRegistry sync.Map

// localTransport is an in-process Transport used by the test harness and by
// single-process embedding of multiple members. Sends are plain function
// calls into the target's handler - no serialization occurs, so it should
// not be used across process boundaries.
type localTransport struct {
	address string
	mu      sync.RWMutex
	handler RequestHandler
	closed  bool

	// disconnected names peer addresses this transport currently refuses to
	// send RPCs to, used by tests to simulate a network partition.
	disconnected map[string]bool
}

// NewLocalTransport creates a transport addressable at address within this
// process. It is registered globally on Run and deregistered on Close.
func NewLocalTransport(address string) Transport {
	return &localTransport{address: address}
}

func (t *localTransport) SetRequestHandler(handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *localTransport) Run() error {
	localRegistry.Store(t.address, t)
	return nil
}

func (t *localTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	localRegistry.Delete(t.address)
	return nil
}

func (t *localTransport) LocalAddr() string { return t.address }

func (t *localTransport) peerAt(address string) (*localTransport, error) {
	value, ok := localRegistry.Load(address)
	if !ok {
		return nil, errors.WrapError(nil, "no local transport registered at address %s", address)
	}
	peer := value.(*localTransport)
	peer.mu.RLock()
	defer peer.mu.RUnlock()
	if peer.closed || peer.handler == nil {
		return nil, errors.WrapError(nil, "local transport at address %s is unreachable", address)
	}
	return peer, nil
}

func (t *localTransport) AppendEntries(address string, request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	if t.isDisconnectedFrom(address) {
		return errors.WrapError(nil, "local transport at %s is disconnected from %s", t.address, address)
	}
	peer, err := t.peerAt(address)
	if err != nil {
		return err
	}
	return peer.handler.AppendEntries(request, response)
}

func (t *localTransport) RequestVote(address string, request *RequestVoteRequest, response *RequestVoteResponse) error {
	if t.isDisconnectedFrom(address) {
		return errors.WrapError(nil, "local transport at %s is disconnected from %s", t.address, address)
	}
	peer, err := t.peerAt(address)
	if err != nil {
		return err
	}
	return peer.handler.RequestVote(request, response)
}

func (t *localTransport) InstallSnapshot(address string, request *InstallSnapshotRequest, response *InstallSnapshotResponse) error {
	if t.isDisconnectedFrom(address) {
		return errors.WrapError(nil, "local transport at %s is disconnected from %s", t.address, address)
	}
	peer, err := t.peerAt(address)
	if err != nil {
		return err
	}
	return peer.handler.InstallSnapshot(request, response)
}

func (t *localTransport) isDisconnectedFrom(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.disconnected[address]
}

// DisconnectFrom makes this transport refuse to send RPCs to address, used by
// tests to simulate a network partition. It is one-directional: the peer at
// address may still successfully send to this transport unless it disconnects
// in turn.
func (t *localTransport) DisconnectFrom(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected == nil {
		t.disconnected = make(map[string]bool)
	}
	t.disconnected[address] = true
}

// ReconnectTo undoes a prior DisconnectFrom.
func (t *localTransport) ReconnectTo(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.disconnected, address)
}

// ReconnectAll clears every disconnection recorded by DisconnectFrom.
func (t *localTransport) ReconnectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = nil
}

// rpcRequestHandler adapts a RequestHandler to the shape net/rpc requires
// for service registration (an exported type whose exported methods each
// take two arguments and return error).
type rpcRequestHandler struct {
	handler RequestHandler
}

func (h *rpcRequestHandler) AppendEntries(request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	return h.handler.AppendEntries(request, response)
}

func (h *rpcRequestHandler) RequestVote(request *RequestVoteRequest, response *RequestVoteResponse) error {
	return h.handler.RequestVote(request, response)
}

func (h *rpcRequestHandler) InstallSnapshot(request *InstallSnapshotRequest, response *InstallSnapshotResponse) error {
	return h.handler.InstallSnapshot(request, response)
}

// netRPCTransport is a real network Transport built on the standard
// library's net/rpc (gob-framed) server and client: it dials lazily, caches
// clients by address, and closes every cached connection on shutdown.
type netRPCTransport struct {
	address  string
	listener net.Listener
	server   *rpc.Server

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewNetRPCTransport creates a network transport that listens at address.
func NewNetRPCTransport(address string) Transport {
	return &netRPCTransport{address: address, clients: make(map[string]*rpc.Client)}
}

func (t *netRPCTransport) SetRequestHandler(handler RequestHandler) {
	t.server = rpc.NewServer()
	t.server.RegisterName("Raft", &rpcRequestHandler{handler: handler})
}

func (t *netRPCTransport) Run() error {
	if t.server == nil {
		return errors.WrapError(nil, "SetRequestHandler must be called before Run")
	}
	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return errors.WrapError(err, err.Error())
	}
	t.listener = listener

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go t.server.ServeConn(conn)
		}
	}()

	return nil
}

func (t *netRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for address, client := range t.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.clients, address)
	}
	if t.listener != nil {
		if err := t.listener.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *netRPCTransport) LocalAddr() string { return t.address }

func (t *netRPCTransport) clientFor(address string) (*rpc.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if client, ok := t.clients[address]; ok {
		return client, nil
	}

	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, errors.WrapError(err, err.Error())
	}
	t.clients[address] = client
	return client, nil
}

func (t *netRPCTransport) call(address string, method string, request interface{}, response interface{}) error {
	client, err := t.clientFor(address)
	if err != nil {
		return err
	}
	if err := client.Call(fmt.Sprintf("Raft.%s", method), request, response); err != nil {
		t.mu.Lock()
		delete(t.clients, address)
		t.mu.Unlock()
		return errors.WrapError(err, err.Error())
	}
	return nil
}

func (t *netRPCTransport) AppendEntries(address string, request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	return t.call(address, "AppendEntries", request, response)
}

func (t *netRPCTransport) RequestVote(address string, request *RequestVoteRequest, response *RequestVoteResponse) error {
	return t.call(address, "RequestVote", request, response)
}

func (t *netRPCTransport) InstallSnapshot(address string, request *InstallSnapshotRequest, response *InstallSnapshotResponse) error {
	return t.call(address, "InstallSnapshot", request, response)
}
