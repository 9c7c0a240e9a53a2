package raft

import "sync"

// Peer tracks the replication state raft maintains for one other member of
// the cluster: the address to send RPCs to, and the nextIndex/matchIndex
// bookkeeping a leader uses to drive replication to it.
type Peer struct {
	id      string
	address string

	mu         sync.Mutex
	nextIndex  uint64
	matchIndex uint64
}

// NewPeer creates a peer entry for the given ID and address, with nextIndex
// initialized to 1 and matchIndex to 0.
func NewPeer(id, address string) *Peer {
	return &Peer{id: id, address: address, nextIndex: 1}
}

func (p *Peer) ID() string { return p.id }

func (p *Peer) Address() string { return p.address }

func (p *Peer) setNextIndex(index uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextIndex = index
}

func (p *Peer) getNextIndex() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextIndex
}

func (p *Peer) setMatchIndex(index uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matchIndex = index
}

func (p *Peer) getMatchIndex() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.matchIndex
}
