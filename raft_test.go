package raft

import (
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestElectSingleLeader(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	tc.start()
	defer tc.stop()

	tc.checkLeader()
}

func TestSubmitChangeCommits(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	tc.start()
	defer tc.stop()

	result := tc.submit([]byte("set x 1"))
	require.NoError(t, result.Error())

	require.Eventually(t, func() bool {
		for _, fsm := range tc.fsm {
			if fsm.appliedCount() < 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNonLeaderRejectsProposeChange(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	tc.start()
	defer tc.stop()

	leader := tc.checkLeader()
	for _, member := range tc.members {
		if member == leader {
			continue
		}
		result := member.ProposeChange([]byte("ignored")).Await()
		require.Error(t, result.Error())
		_, ok := result.Error().(NotLeaderError)
		require.True(t, ok)
		break
	}
}

func TestAcceptsPredicateRejectsChange(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	for _, fsm := range tc.fsm {
		fsm.reject = func(change []byte) bool { return string(change) == "poison" }
	}
	tc.start()
	defer tc.stop()

	leader := tc.checkLeader()
	var leaderFSM *stateMachineMock
	for i, member := range tc.members {
		if member == leader {
			leaderFSM = tc.fsm[i]
		}
	}
	_ = leaderFSM

	result := leader.ProposeChange([]byte("poison")).Await()
	require.Error(t, result.Error())
	_, ok := result.Error().(RejectedError)
	require.True(t, ok)
}

func TestFailoverElectsNewLeader(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	tc.start()
	defer tc.stop()

	leader := tc.checkLeader()
	require.NoError(t, leader.Stop())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, member := range tc.members {
			if member == leader {
				continue
			}
			if member.Status().State == Leader {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cluster failed to elect a new leader after the leader stopped")
}

func TestMinorityPartitionCannotCommit(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 5)
	tc.start()
	defer tc.stop()

	leader := tc.checkLeader()
	leaderIdx := -1
	for i, member := range tc.members {
		if member == leader {
			leaderIdx = i
		}
	}
	require.NotEqual(t, -1, leaderIdx)

	other := (leaderIdx + 1) % len(tc.members)
	tc.partition([]int{leaderIdx, other})

	result := leader.ProposeChange([]byte("should not commit")).Await()
	require.Error(t, result.Error())

	tc.healPartition()
}

func TestProposeConfigChangeAddsVoter(t *testing.T) {
	defer leaktest.CheckTimeout(t, 1*time.Second)()

	tc := newTestCluster(t, 3)
	tc.start()
	defer tc.stop()

	leader := tc.checkLeader()

	newID := fmt.Sprint(len(tc.members))
	newAddress := fmt.Sprintf("127.0.0.%d:8080", len(tc.members))

	members := make(map[string]string, len(leader.configuration.Members)+1)
	for id, addr := range leader.configuration.Members {
		members[id] = addr
	}
	members[newID] = newAddress

	voters := make(map[string]bool, len(members))
	for id := range members {
		voters[id] = true
	}

	result := leader.ProposeConfigChange(members, voters).Await()
	require.NoError(t, result.Error())
	require.Contains(t, result.Success().Members, newID)
}
