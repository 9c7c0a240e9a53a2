package raft

import (
	"sync"
	"time"

	"github.com/raftkeep/raft/internal/errors"
	"github.com/raftkeep/raft/internal/logging"
)

// State is the role a Raft instance is currently playing.
type State uint32

const (
	Follower State = iota
	Candidate
	Leader
	Stopped
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	case Stopped:
		return "stopped"
	default:
		panic("invalid state")
	}
}

// Status is a snapshot of a Raft instance's externally-visible state.
type Status struct {
	ID          string
	LeaderID    string
	Term        uint64
	CommitIndex uint64
	LastApplied uint64
	State       State
}

// InitState is what a leader hands a joining member so that it can
// bootstrap without replaying the entire log, per get_state_for_init.
type InitState struct {
	Term          uint64
	Configuration Configuration
	Snapshot      Snapshot
}

// Raft is a single member of a replicated consensus group. It coordinates
// leader election, log replication, and snapshotting for one StateMachine,
// guarded throughout by a single coarse mutex, with applyCond and commitCond
// both bound to that same mutex rather than to independent locks.
type Raft struct {
	id      string
	address string

	options   options
	transport Transport
	logger    *logging.Logger

	configuration *Configuration
	peers         map[string]*Peer

	log             Log
	stateStorage    StateStorage
	snapshotStorage SnapshotStorage
	fsm             StateMachine

	applyCond  *sync.Cond
	commitCond *sync.Cond

	state       State
	commitIndex uint64
	lastApplied uint64
	currentTerm uint64
	votedFor    string

	lastIncludedIndex uint64
	lastIncludedTerm  uint64

	// entriesSinceSnapshot counts entries applied since the last snapshot,
	// checked against options.snapshotThreshold to trigger compaction.
	entriesSinceSnapshot uint64

	lastContact time.Time
	leaderID    string

	changes *changeManager

	wg sync.WaitGroup
	mu sync.Mutex
}

// NewRaft creates a Raft instance with the given ID, the address its
// transport listens on, and the initial cluster membership (which must
// include this instance's own ID). The instance starts in the Stopped
// state; call Start to begin participating in the cluster.
func NewRaft(
	id string,
	address string,
	members map[string]string,
	log Log,
	stateStorage StateStorage,
	snapshotStorage SnapshotStorage,
	fsm StateMachine,
	opts ...Option,
) (*Raft, error) {
	var o options
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errors.WrapError(err, "failed to create raft: %s", err.Error())
		}
	}

	if o.heartbeatInterval == 0 {
		o.heartbeatInterval = defaultHeartbeat
	}
	if o.electionTimeout == 0 {
		o.electionTimeout = defaultElectionTimeout
	}
	if o.maxEntriesPerRPC == 0 {
		o.maxEntriesPerRPC = defaultMaxEntriesPerRPC
	}
	if o.changeTimeout == 0 {
		o.changeTimeout = defaultChangeTimeout
	}
	if o.snapshotThreshold == 0 {
		o.snapshotThreshold = defaultSnapshotThreshold
	}
	if o.log != nil {
		log = o.log
	}
	if o.stateStorage != nil {
		stateStorage = o.stateStorage
	}
	if o.snapshotStorage != nil {
		snapshotStorage = o.snapshotStorage
	}

	loggerOpts := []logging.Option{logging.WithPrefix("raft: ")}
	if o.levelSet {
		loggerOpts = append(loggerOpts, logging.WithLevel(o.logLevel))
	}
	logger, err := logging.NewLogger(loggerOpts...)
	if err != nil {
		return nil, errors.WrapError(err, "failed to create raft: %s", err.Error())
	}

	term, votedFor, err := stateStorage.State()
	if err != nil {
		return nil, errors.WrapError(err, "failed to recover state storage: %s", err.Error())
	}

	if err := log.Open(); err != nil {
		return nil, errors.WrapError(err, "failed to open log: %s", err.Error())
	}

	transport := o.transport
	if transport == nil {
		transport = NewLocalTransport(address)
	}

	raft := &Raft{
		id:              id,
		address:         address,
		options:         o,
		transport:       transport,
		logger:          logger,
		configuration:   NewConfiguration(members),
		peers:           make(map[string]*Peer),
		log:             log,
		stateStorage:    stateStorage,
		snapshotStorage: snapshotStorage,
		fsm:             fsm,
		currentTerm:     term,
		votedFor:        votedFor,
		state:           Stopped,
		changes:         newChangeManager(),
	}
	raft.applyCond = sync.NewCond(&raft.mu)
	raft.commitCond = sync.NewCond(&raft.mu)
	raft.rebuildPeers()

	snapshot, err := loadLatestSnapshot(snapshotStorage)
	if err != nil {
		return nil, errors.WrapError(err, "failed to load latest snapshot: %s", err.Error())
	}
	if snapshot != nil {
		raft.lastIncludedIndex = snapshot.LastIncludedIndex
		raft.lastIncludedTerm = snapshot.LastIncludedTerm
		if err := fsm.Restore(snapshot); err != nil {
			return nil, errors.WrapError(err, "failed to restore state machine from snapshot: %s", err.Error())
		}
		if raft.lastApplied < snapshot.LastIncludedIndex {
			raft.lastApplied = snapshot.LastIncludedIndex
		}
		if raft.commitIndex < snapshot.LastIncludedIndex {
			raft.commitIndex = snapshot.LastIncludedIndex
		}
	}

	return raft, nil
}

func loadLatestSnapshot(storage SnapshotStorage) (*Snapshot, error) {
	reader, err := storage.SnapshotReader(0)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, nil
	}
	defer reader.Close()
	snapshot, err := decodeSnapshot(reader)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// rebuildPeers reconciles r.peers with r.configuration, preserving nextIndex
// and matchIndex bookkeeping for peers that remain in the configuration.
func (r *Raft) rebuildPeers() {
	updated := make(map[string]*Peer, len(r.configuration.Members))
	for peerID, address := range r.configuration.Members {
		if peerID == r.id {
			continue
		}
		if existing, ok := r.peers[peerID]; ok {
			existing.address = address
			updated[peerID] = existing
			continue
		}
		updated[peerID] = NewPeer(peerID, address)
	}
	r.peers = updated
}

// Start begins participating in the cluster: connects the transport,
// registers this instance as the RPC handler, and launches the election,
// heartbeat, commit, and apply loops.
func (r *Raft) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Stopped {
		return nil
	}

	r.transport.SetRequestHandler(r)
	if err := r.transport.Run(); err != nil {
		return errors.WrapError(err, "failed to start transport: %s", err.Error())
	}

	r.lastContact = time.Now()
	r.state = Follower

	r.wg.Add(4)
	go r.electionLoop()
	go r.heartbeatLoop()
	go r.commitLoop()
	go r.applyLoop()

	r.logger.Infof("server %s started at %s", r.id, r.address)

	return nil
}

// Stop halts participation in the cluster and releases held resources.
func (r *Raft) Stop() error {
	r.mu.Lock()

	if r.state == Stopped {
		r.mu.Unlock()
		return nil
	}

	r.state = Stopped
	r.applyCond.Broadcast()
	r.commitCond.Broadcast()
	r.changes.notifyLostLeadership(r.id, r.leaderID)

	r.mu.Unlock()
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.transport.Close(); err != nil {
		return errors.WrapError(err, "failed to stop transport: %s", err.Error())
	}
	if err := r.log.Close(); err != nil {
		return errors.WrapError(err, "failed to close log: %s", err.Error())
	}

	r.logger.Infof("server %s stopped", r.id)

	return nil
}

// Status returns a snapshot of this instance's externally-visible state.
func (r *Raft) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Status{
		ID:          r.id,
		LeaderID:    r.leaderID,
		Term:        r.currentTerm,
		CommitIndex: r.commitIndex,
		LastApplied: r.lastApplied,
		State:       r.state,
	}
}

// ProposeChange submits change to be replicated and applied to the state
// machine, returning a ChangeToken the caller can Await for the result.
// If this instance is not the leader, the token immediately resolves with
// a NotLeaderError naming the known leader, if any.
func (r *Raft) ProposeChange(change []byte) ChangeToken[ChangeResponse] {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := newChangeToken[ChangeResponse](r.options.changeTimeout)

	if r.state != Leader {
		respond(token.responseCh, ChangeResponse{}, NotLeaderError{ServerID: r.id, KnownLeader: r.leaderID})
		return token
	}

	if !r.fsm.Accepts(change) {
		respond(token.responseCh, ChangeResponse{}, RejectedError{Reason: "state machine declined to accept the proposed change"})
		return token
	}

	entry := NewLogEntry(r.log.LastIndex()+1, r.currentTerm, change)
	if _, err := r.log.AppendEntries(entry); err != nil {
		respond(token.responseCh, ChangeResponse{}, err)
		return token
	}

	r.changes.addChange(entry.Index(), entry.Term(), token.responseCh)
	r.sendAppendEntriesToAll()

	r.logger.Debugf("server %s proposed change at index %d", r.id, entry.Index())

	return token
}

// ProposeConfigChange submits a change of cluster membership, transitioning
// through joint consensus (C_old,new) before committing the stable C_new
// configuration, per the joint-consensus algorithm.
func (r *Raft) ProposeConfigChange(members map[string]string, voters map[string]bool) ChangeToken[Configuration] {
	r.mu.Lock()
	defer r.mu.Unlock()

	token := newChangeToken[Configuration](r.options.changeTimeout)

	if r.state != Leader {
		respond(token.responseCh, Configuration{}, NotLeaderError{ServerID: r.id, KnownLeader: r.leaderID})
		return token
	}

	if r.configuration.IsJoint() {
		respond(token.responseCh, Configuration{}, errors.WrapError(nil, "a configuration change is already in progress"))
		return token
	}

	joint := &Configuration{
		Members:   members,
		IsVoter:   r.configuration.IsVoter,
		NewVoters: voters,
	}

	data, err := encodeConfiguration(joint)
	if err != nil {
		respond(token.responseCh, Configuration{}, err)
		return token
	}

	entry := NewTypedLogEntry(r.log.LastIndex()+1, r.currentTerm, ConfigurationEntry, data)
	if _, err := r.log.AppendEntries(entry); err != nil {
		respond(token.responseCh, Configuration{}, err)
		return token
	}
	joint.Index = entry.Index()
	r.configuration = joint
	r.rebuildPeers()

	r.changes.addConfigChange(entry.Index(), entry.Term(), token.responseCh)
	r.sendAppendEntriesToAll()

	return token
}

// GetStateForInit lets a leader hand a joining member enough state - term,
// its current configuration (which is the joint configuration while a
// proposed configuration change has not yet committed), and a state machine
// snapshot - to bootstrap without replaying the whole log.
func (r *Raft) GetStateForInit() (InitState, error) {
	r.mu.Lock()
	if r.state != Leader {
		knownLeader := r.leaderID
		r.mu.Unlock()
		return InitState{}, NotLeaderError{ServerID: r.id, KnownLeader: knownLeader}
	}
	term := r.currentTerm
	configuration := *r.configuration
	r.mu.Unlock()

	snapshot, err := r.fsm.Snapshot()
	if err != nil {
		return InitState{}, errors.WrapError(err, "failed to snapshot state machine: %s", err.Error())
	}

	return InitState{Term: term, Configuration: configuration, Snapshot: snapshot}, nil
}

func (r *Raft) persistTermAndVote() {
	if err := r.stateStorage.SetState(r.currentTerm, r.votedFor); err != nil {
		r.logger.Fatalf("server %s failed persisting term and vote: %s", r.id, err.Error())
	}
}
