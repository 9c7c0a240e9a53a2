/*
Package raft implements the Raft consensus protocol: leader election, log
replication, and cluster membership changes via joint consensus, on top of a
pluggable transport and storage layer.

There are two ways to use this library. The first is to embed the Raft type
directly, supplying your own Transport; this is useful if you want a
different wire protocol or want to run several members in one process. The
second is to use the provided Server, which wraps a Raft instance with
durable storage rooted at one directory and a net/rpc transport.

To get started, define the state machine to be replicated. It must implement
the StateMachine interface and be safe for concurrent use, since Apply,
Accepts, Snapshot, and Restore may all be invoked from different goroutines.

	// Op represents an operation on the state machine.
	type Op int

	const (
	    Increment Op = iota
	    Decrement
	)

	// Result is returned to the caller once an operation is applied.
	type Result struct {
	    Value int
	    Err   error
	}

	// Counter is a trivial state machine that increments or decrements a count.
	type Counter struct {
	    mu    sync.Mutex
	    count int
	}

	func (c *Counter) Apply(entry *raft.LogEntry) interface{} {
	    c.mu.Lock()
	    defer c.mu.Unlock()

	    var op Op
	    if err := gob.NewDecoder(bytes.NewReader(entry.Data())).Decode(&op); err != nil {
	        return Result{Err: err}
	    }
	    switch op {
	    case Increment:
	        c.count++
	    case Decrement:
	        c.count--
	    }
	    return Result{Value: c.count}
	}

	func (c *Counter) Accepts(change []byte) bool {
	    return true
	}

	func (c *Counter) Snapshot() (raft.Snapshot, error) {
	    c.mu.Lock()
	    defer c.mu.Unlock()

	    var buf bytes.Buffer
	    if err := gob.NewEncoder(&buf).Encode(c.count); err != nil {
	        return raft.Snapshot{}, err
	    }
	    return raft.Snapshot{Data: buf.Bytes()}, nil
	}

	func (c *Counter) Restore(snapshot *raft.Snapshot) error {
	    c.mu.Lock()
	    defer c.mu.Unlock()
	    return gob.NewDecoder(bytes.NewReader(snapshot.Data)).Decode(&c.count)
	}

Next, describe the cluster as a map from member ID to address, and create a
Server for this member. If a durable file already exists at dataDir, the
member recovers from it; otherwise, the file is created.

	members := map[string]string{
	    "node-1": "127.0.0.1:8080",
	    "node-2": "127.0.0.2:8080",
	    "node-3": "127.0.0.3:8080",
	}

	fsm := new(Counter)
	server, err := raft.NewServer("node-1", members["node-1"], members, "node-1-data", fsm)
	if err != nil {
	    panic(err)
	}

Options such as the election timeout may be supplied when creating a
Server or a Raft instance directly. If none are provided, sensible defaults
are used.

	server, err := raft.NewServer("node-1", members["node-1"], members, "node-1-data", fsm,
	    raft.WithElectionTimeout(500*time.Millisecond))

Starting the server begins participating in the cluster and serving RPCs.

	if err := server.Start(); err != nil {
	    panic(err)
	}
	defer server.Stop()

Once a leader has been elected, a change may be proposed. ProposeChange
returns a ChangeToken immediately; Await blocks until the change commits,
is rejected, or times out.

	var buf bytes.Buffer
	gob.NewEncoder(&buf).Encode(Increment)

	token := server.ProposeChange(buf.Bytes())
	result := token.Await()
	if err := result.Error(); err != nil {
	    // Not the leader, rejected by Accepts, or timed out; NotLeaderError
	    // names the known leader, if any, so the caller can redirect.
	    panic(err)
	}
	response := result.Success().ApplicationResponse.(Result)

Cluster membership is changed with ProposeConfigChange, which transitions
through the joint consensus configuration C_old,new automatically before
the stable C_new configuration commits.

	token := server.ProposeConfigChange(newMembers, newVoters)
	configuration := token.Await()

This is a simplified example; a real deployment would also want duplicate
change detection above the log index / term pair ProposeChange's
ChangeResponse reports, and a retry strategy that follows NotLeaderError's
KnownLeader.
*/
package raft
