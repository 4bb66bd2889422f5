package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Orchestrator executes registered nodes in topological order starting from
// an entry node. Registration is expected to happen once at startup; the
// graph is treated as read-only during execution.
type Orchestrator struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges []Edge
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		nodes: make(map[string]Node),
	}
}

// RegisterNode upserts a node by id.
func (o *Orchestrator) RegisterNode(node Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes[node.ID()] = node
}

func (o *Orchestrator) RegisterNodes(nodes []Node) {
	for _, node := range nodes {
		o.RegisterNode(node)
	}
}

// AddEdge appends a dependency. Duplicate edges collapse into one.
func (o *Orchestrator) AddEdge(edge Edge) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.edges {
		if existing == edge {
			return
		}
	}
	o.edges = append(o.edges, edge)
}

func (o *Orchestrator) AddEdges(edges []Edge) {
	for _, edge := range edges {
		o.AddEdge(edge)
	}
}

// Clear removes all nodes and edges.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nodes = make(map[string]Node)
	o.edges = nil
}

func (o *Orchestrator) GetStats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Stats{Nodes: len(o.nodes), Edges: len(o.edges)}
}

// Validate checks the registered graph for cycles and dangling edges. Run
// once at setup so a misconfigured workflow prevents its subsystem from
// starting instead of failing per job.
func (o *Orchestrator) Validate() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, err := topologicalOrder(o.nodes, o.edges)
	return err
}

// Execute runs the chain starting at entryNodeID through the end of the
// topological order. A cyclic graph fails before any node runs. Node
// failures are recovered via the node's ErrorHandler when present, otherwise
// they abort the remaining nodes and are reported in the Result.
func (o *Orchestrator) Execute(ctx context.Context, entryNodeID string, initial Payload, wctx Context) (*Result, error) {
	o.mu.RLock()
	nodes := make(map[string]Node, len(o.nodes))
	for id, node := range o.nodes {
		nodes[id] = node
	}
	edges := make([]Edge, len(o.edges))
	copy(edges, o.edges)
	o.mu.RUnlock()

	if _, ok := nodes[entryNodeID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, entryNodeID)
	}

	order, err := topologicalOrder(nodes, edges)
	if err != nil {
		return nil, err
	}

	start := -1
	for i, id := range order {
		if id == entryNodeID {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, entryNodeID)
	}

	predecessors := make(map[string][]string)
	for _, edge := range edges {
		predecessors[edge.To] = append(predecessors[edge.To], edge.From)
	}

	startedAt := time.Now()
	result := &Result{
		NodeOutputs: make(map[string]Payload),
		ExecutedAt:  startedAt.UTC(),
	}
	if wctx == nil {
		wctx = Context{}
	}

	for _, nodeID := range order[start:] {
		node := nodes[nodeID]
		input := mergeInput(initial, predecessors[nodeID], result.NodeOutputs)

		output, execErr := node.Execute(ctx, input, wctx)
		if execErr != nil {
			handler, ok := node.(ErrorHandler)
			if !ok {
				result.Success = false
				result.Error = execErr.Error()
				result.FailedNode = nodeID
				result.Duration = time.Since(startedAt)
				return result, nil
			}

			slog.Debug("Workflow node recovered", "node", nodeID, "error", execErr)
			output, execErr = handler.OnError(ctx, execErr, input, wctx)
			if execErr != nil {
				result.Success = false
				result.Error = execErr.Error()
				result.FailedNode = nodeID
				result.Duration = time.Since(startedAt)
				return result, nil
			}
		}

		result.NodeOutputs[nodeID] = output
		result.Output = output
	}

	result.Success = true
	result.Duration = time.Since(startedAt)
	return result, nil
}

// topologicalOrder runs Kahn's algorithm over the full registered graph.
// Emitting fewer nodes than registered means a cycle exists somewhere.
func topologicalOrder(nodes map[string]Node, edges []Edge) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string)
	for id := range nodes {
		inDegree[id] = 0
	}
	for _, edge := range edges {
		if _, ok := nodes[edge.From]; !ok {
			return nil, fmt.Errorf("%w: edge references %s", ErrUnknownNode, edge.From)
		}
		if _, ok := nodes[edge.To]; !ok {
			return nil, fmt.Errorf("%w: edge references %s", ErrUnknownNode, edge.To)
		}
		successors[edge.From] = append(successors[edge.From], edge.To)
		inDegree[edge.To]++
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	// Stable order across runs regardless of map iteration.
	sort.Strings(queue)

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		next := successors[id]
		sort.Strings(next)
		for _, succ := range next {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) < len(nodes) {
		return nil, ErrCircularDependency
	}

	return order, nil
}

// mergeInput layers predecessor outputs over the initial payload. Initial
// keys are the lowest-priority defaults; later predecessors win conflicts.
func mergeInput(initial Payload, preds []string, outputs map[string]Payload) Payload {
	merged := make(Payload, len(initial))
	for k, v := range initial {
		merged[k] = v
	}
	for _, pred := range preds {
		output, ok := outputs[pred]
		if !ok {
			continue
		}
		for k, v := range output {
			merged[k] = v
		}
	}
	return merged
}
