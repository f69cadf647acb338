package compute

// Placement is a scheduling hint carried by work items. A distributed
// substrate uses it to spread memory-heavy work across machines or to pin
// work to the one node that can reach local files; the in-process executor
// records it but schedules everything locally.
type Placement struct {
	Spread bool
	Node   string
}

func Spread() Placement {
	return Placement{Spread: true}
}

func OnNode(node string) Placement {
	return Placement{Node: node}
}

// ExecutionContext describes where read tasks will run.
type ExecutionContext struct {
	// Distributed is set when tasks may execute on remote workers that
	// cannot reach files local to the constructing process.
	Distributed bool
	// NodeID identifies the constructing node, used to pin work when only
	// local access is possible.
	NodeID string
}
