package raft

import (
	"errors"
	"time"

	"github.com/raftkeep/raft/internal/logging"
)

const (
	defaultElectionTimeout   = time.Duration(300 * time.Millisecond)
	defaultHeartbeat         = time.Duration(50 * time.Millisecond)
	defaultMaxEntriesPerRPC  = 100
	defaultChangeTimeout     = time.Duration(5 * time.Second)
	defaultSnapshotThreshold = 10000
)

type options struct {
	// Minimum election timeout. A random time between electionTimeout
	// and 2 * electionTimeout will be chosen to determine when a server
	// will hold an election.
	electionTimeout time.Duration

	// The interval between AppendEntries RPCs that the leader will send
	// to followers, including empty heartbeats.
	heartbeatInterval time.Duration

	// The maximum number of entries the leader will send in a single
	// AppendEntries RPC.
	maxEntriesPerRPC int

	// How long the Await of a ChangeToken returned by propose_change or
	// propose_config_change waits for a result before resolving with
	// ErrTimeout.
	changeTimeout time.Duration

	// The number of entries applied since the last snapshot after which a
	// member takes a new snapshot and compacts its log.
	snapshotThreshold uint64

	// The level of logged messages.
	logLevel logging.Level

	// Indicates if log level was set or not.
	levelSet bool

	// A provided log that can be used by raft.
	log Log

	// A provided state storage that can be used by raft.
	stateStorage StateStorage

	// A provided snapshot storage that can be used by raft.
	snapshotStorage SnapshotStorage

	// A provided network transport that can be used by raft.
	transport Transport
}

// Option is a function that updates the options associated with Raft.
type Option func(options *options) error

// WithElectionTimeout sets the election timeout for raft.
func WithElectionTimeout(timeout time.Duration) Option {
	return func(options *options) error {
		options.electionTimeout = timeout
		return nil
	}
}

// WithHeartbeatInterval sets the heartbeat interval for raft.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(options *options) error {
		options.heartbeatInterval = interval
		return nil
	}
}

// WithMaxEntriesPerRPC caps how many entries the leader will pack into a
// single AppendEntries RPC.
func WithMaxEntriesPerRPC(max int) Option {
	return func(options *options) error {
		if max <= 0 {
			return errors.New("max entries per RPC must be positive")
		}
		options.maxEntriesPerRPC = max
		return nil
	}
}

// WithChangeTimeout sets how long a ChangeToken returned by propose_change
// or propose_config_change will wait before giving up on a result.
func WithChangeTimeout(timeout time.Duration) Option {
	return func(options *options) error {
		options.changeTimeout = timeout
		return nil
	}
}

// WithSnapshotThreshold sets the number of entries applied since the last
// snapshot that triggers a member to take a new one.
func WithSnapshotThreshold(threshold uint64) Option {
	return func(options *options) error {
		options.snapshotThreshold = threshold
		return nil
	}
}

// WithLogLevel sets the log level used by raft.
func WithLogLevel(level logging.Level) Option {
	return func(options *options) error {
		options.logLevel = level
		options.levelSet = true
		return nil
	}
}

// WithLog sets the log that will be used by raft. This is useful
// if you wish to use your own implementation of a log.
func WithLog(log Log) Option {
	return func(options *options) error {
		if log == nil {
			return errors.New("log must not be nil")
		}
		options.log = log
		return nil
	}
}

// WithStateStorage sets the state storage that will be used by raft.
// This is useful if you wish to use your own implementation of a state storage.
func WithStateStorage(stateStorage StateStorage) Option {
	return func(options *options) error {
		if stateStorage == nil {
			return errors.New("state storage must not be nil")
		}
		options.stateStorage = stateStorage
		return nil
	}
}

// WithSnapshotStorage sets the snapshot storage that will be used by raft.
// This is useful if you wish to use your own implementation of a snapshot storage.
func WithSnapshotStorage(snapshotStorage SnapshotStorage) Option {
	return func(options *options) error {
		if snapshotStorage == nil {
			return errors.New("snapshot storage must not be nil")
		}
		options.snapshotStorage = snapshotStorage
		return nil
	}
}

// WithTransport sets the network transport that will be used by raft.
// This is useful if you wish to use your own implementation of a transport.
func WithTransport(transport Transport) Option {
	return func(options *options) error {
		if transport == nil {
			return errors.New("transport must not be nil")
		}
		options.transport = transport
		return nil
	}
}
