package raft

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raftkeep/raft/internal/errors"
	"github.com/raftkeep/raft/internal/randtime"
	"github.com/stretchr/testify/require"
)

// stateMachineMock is a StateMachine that records every entry applied to it,
// suitable for verifying replication order and snapshot/restore round trips
// in tests.
type stateMachineMock struct {
	mu      sync.Mutex
	entries []*LogEntry
	reject  func(change []byte) bool
}

func newStateMachineMock() *stateMachineMock {
	return &stateMachineMock{}
}

func (s *stateMachineMock) Apply(entry *LogEntry) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return len(s.entries)
}

func (s *stateMachineMock) Accepts(change []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject == nil {
		return true
	}
	return !s.reject(change)
}

func (s *stateMachineMock) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.entries); err != nil {
		return Snapshot{}, err
	}

	var lastIndex, lastTerm uint64
	if len(s.entries) != 0 {
		lastIndex = s.entries[len(s.entries)-1].Index()
		lastTerm = s.entries[len(s.entries)-1].Term()
	}

	return Snapshot{LastIncludedIndex: lastIndex, LastIncludedTerm: lastTerm, Data: buf.Bytes()}, nil
}

func (s *stateMachineMock) Restore(snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decoded []gobLogEntry
	if err := gob.NewDecoder(bytes.NewReader(snapshot.Data)).Decode(&decoded); err != nil {
		return errors.WrapError(err, "failed to decode state machine snapshot: %s", err.Error())
	}
	entries := make([]*LogEntry, len(decoded))
	for i, e := range decoded {
		entries[i] = NewTypedLogEntry(e.Index, e.Term, e.EntryType, e.Data)
	}
	s.entries = entries
	return nil
}

func (s *stateMachineMock) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// testCluster drives a fixed-size group of in-process Raft members wired
// together with localTransport, used by the test suite to exercise election,
// replication, partition, and snapshot behavior without any real networking.
type testCluster struct {
	t       *testing.T
	members []*Raft
	fsm     []*stateMachineMock

	mu sync.Mutex
}

func newTestCluster(t *testing.T, numMembers int) *testCluster {
	members := make(map[string]string, numMembers)
	for i := 0; i < numMembers; i++ {
		members[fmt.Sprint(i)] = fmt.Sprintf("127.0.0.%d:8080", i)
	}

	tc := &testCluster{t: t}
	for i := 0; i < numMembers; i++ {
		id := fmt.Sprint(i)
		dir := t.TempDir()

		log := NewLog(dir)
		stateStorage, err := NewStateStorage(dir)
		require.NoError(t, err)
		snapshotStorage, err := NewSnapshotStorage(dir)
		require.NoError(t, err)

		fsm := newStateMachineMock()
		member, err := NewRaft(id, members[id], members, log, stateStorage, snapshotStorage, fsm,
			WithTransport(NewLocalTransport(members[id])),
			WithElectionTimeout(50*time.Millisecond),
			WithHeartbeatInterval(10*time.Millisecond),
		)
		require.NoError(t, err)

		tc.members = append(tc.members, member)
		tc.fsm = append(tc.fsm, fsm)
	}

	return tc
}

func (tc *testCluster) start() {
	for i, member := range tc.members {
		require.NoError(tc.t, member.Start(), "failed to start cluster member %d", i)
	}
}

func (tc *testCluster) stop() {
	for i, member := range tc.members {
		require.NoError(tc.t, member.Stop(), "failed to stop cluster member %d", i)
	}
}

func (tc *testCluster) localTransportOf(member *Raft) *localTransport {
	return member.transport.(*localTransport)
}

// checkLeader polls the cluster until exactly one member reports itself as
// leader, failing the test if none does within a few election timeouts.
func (tc *testCluster) checkLeader() *Raft {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var leader *Raft
		leaderCount := 0
		for _, member := range tc.members {
			if member.Status().State == Leader {
				leader = member
				leaderCount++
			}
		}
		require.LessOrEqual(tc.t, leaderCount, 1, "cluster elected more than one leader in the same term")
		if leaderCount == 1 {
			return leader
		}
		time.Sleep(randtime.Timeout(20*time.Millisecond, 40*time.Millisecond))
	}
	tc.t.Fatal("cluster failed to elect a leader")
	return nil
}

// submit proposes change to whichever member is currently leader, retrying
// against a newly elected leader if the first attempt is rejected because
// leadership changed.
func (tc *testCluster) submit(change []byte) Result[ChangeResponse] {
	deadline := time.Now().Add(3 * time.Second)
	var last Result[ChangeResponse]
	for time.Now().Before(deadline) {
		leader := tc.checkLeader()
		last = leader.ProposeChange(change).Await()
		if last.Error() == nil {
			return last
		}
		if _, ok := last.Error().(NotLeaderError); !ok {
			return last
		}
	}
	return last
}

// partition splits the cluster into the members at the given indices and the
// remaining members, so that the two groups cannot reach each other.
func (tc *testCluster) partition(minority []int) {
	inMinority := make(map[int]bool, len(minority))
	for _, i := range minority {
		inMinority[i] = true
	}

	for i, member := range tc.members {
		for j, other := range tc.members {
			if i == j || inMinority[i] == inMinority[j] {
				continue
			}
			tc.localTransportOf(member).DisconnectFrom(other.address)
		}
	}
}

func (tc *testCluster) healPartition() {
	for _, member := range tc.members {
		tc.localTransportOf(member).ReconnectAll()
	}
}
