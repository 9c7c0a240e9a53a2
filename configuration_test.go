package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigurationHasQuorumStable(t *testing.T) {
	configuration := NewConfiguration(map[string]string{"a": "", "b": "", "c": ""})

	require.False(t, configuration.hasQuorum(map[string]bool{"a": true}))
	require.True(t, configuration.hasQuorum(map[string]bool{"a": true, "b": true}))
}

func TestConfigurationJointRequiresQuorumInBothSets(t *testing.T) {
	configuration := &Configuration{
		Members:   map[string]string{"a": "", "b": "", "c": "", "d": ""},
		IsVoter:   map[string]bool{"a": true, "b": true, "c": true},
		NewVoters: map[string]bool{"b": true, "c": true, "d": true},
	}

	// Quorum in the old set (a, b) but not the new set (only b).
	require.False(t, configuration.hasQuorum(map[string]bool{"a": true, "b": true}))

	// Quorum in both the old set (a, b) and the new set (b, c).
	require.True(t, configuration.hasQuorum(map[string]bool{"a": true, "b": true, "c": true}))
}

func TestConfigurationQuorumMatchIndex(t *testing.T) {
	configuration := NewConfiguration(map[string]string{"a": "", "b": "", "c": ""})

	matchIndex := map[string]uint64{"b": 5, "c": 3}
	// Local (a) match is 7; the highest index held by a quorum (any two of
	// a, b, c) is 5, held by a and b.
	index := configuration.quorumMatchIndex("a", 7, matchIndex)
	require.Equal(t, uint64(5), index)
}

func TestConfigurationCloneIsIndependent(t *testing.T) {
	configuration := NewConfiguration(map[string]string{"a": "addr-a"})
	clone := configuration.Clone()
	clone.Members["b"] = "addr-b"

	require.NotContains(t, configuration.Members, "b")
	require.Contains(t, clone.Members, "b")
}
