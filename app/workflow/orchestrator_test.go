package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// recordingNode captures whether it executed and echoes its id into the
// payload so merge behavior can be asserted.
type recordingNode struct {
	id       string
	executed bool
	output   Payload
	err      error
}

func (n *recordingNode) ID() string { return n.id }

func (n *recordingNode) Execute(ctx context.Context, input Payload, wctx Context) (Payload, error) {
	n.executed = true
	if n.err != nil {
		return nil, n.err
	}
	if n.output != nil {
		return n.output, nil
	}
	return Payload{"last": n.id}, nil
}

type recoveringNode struct {
	recordingNode
	recovered bool
}

func (n *recoveringNode) OnError(ctx context.Context, execErr error, input Payload, wctx Context) (Payload, error) {
	n.recovered = true
	return Payload{"fallback": true}, nil
}

func TestOrchestrator_Execute_LinearChain(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a", output: Payload{"from_a": 1}}
	b := &recordingNode{id: "b", output: Payload{"from_b": 2}}
	c := &recordingNode{id: "c"}
	o.RegisterNodes([]Node{a, b, c})
	o.AddEdges([]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}})

	result, err := o.Execute(context.Background(), "a", Payload{"seed": true}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got failure at %s: %s", result.FailedNode, result.Error)
	}
	if !a.executed || !b.executed || !c.executed {
		t.Error("All three nodes should have executed")
	}
	if len(result.NodeOutputs) != 3 {
		t.Errorf("Expected 3 node outputs, got %d", len(result.NodeOutputs))
	}
	if result.Output["last"] != "c" {
		t.Errorf("Final output should come from node c, got %v", result.Output)
	}
}

func TestOrchestrator_Execute_CycleRunsNothing(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a"}
	b := &recordingNode{id: "b"}
	o.RegisterNodes([]Node{a, b})
	o.AddEdges([]Edge{{From: "a", To: "b"}, {From: "b", To: "a"}})

	result, err := o.Execute(context.Background(), "a", nil, nil)
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("Expected ErrCircularDependency, got %v (result: %+v)", err, result)
	}

	if a.executed || b.executed {
		t.Error("No node should execute when the graph has a cycle")
	}
}

func TestOrchestrator_Validate_DetectsCycle(t *testing.T) {
	o := NewOrchestrator()
	o.RegisterNodes([]Node{
		&recordingNode{id: "x"},
		&recordingNode{id: "y"},
		&recordingNode{id: "z"},
	})
	o.AddEdges([]Edge{{From: "x", To: "y"}, {From: "y", To: "z"}})

	if err := o.Validate(); err != nil {
		t.Errorf("Acyclic graph should validate, got %v", err)
	}

	o.AddEdge(Edge{From: "z", To: "x"})
	if err := o.Validate(); !errors.Is(err, ErrCircularDependency) {
		t.Errorf("Expected ErrCircularDependency, got %v", err)
	}
}

func TestOrchestrator_Execute_UnknownEntryNode(t *testing.T) {
	o := NewOrchestrator()
	o.RegisterNode(&recordingNode{id: "only"})

	_, err := o.Execute(context.Background(), "missing", nil, nil)
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode, got %v", err)
	}
}

func TestOrchestrator_Execute_EdgeToUnregisteredNode(t *testing.T) {
	o := NewOrchestrator()
	o.RegisterNode(&recordingNode{id: "a"})
	o.AddEdge(Edge{From: "a", To: "ghost"})

	_, err := o.Execute(context.Background(), "a", nil, nil)
	if !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Expected ErrUnknownNode for dangling edge, got %v", err)
	}
}

func TestOrchestrator_Execute_PredecessorOutputWinsOverInitial(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a", output: Payload{"value": "from-a"}}

	var seen Payload
	b := &captureNode{id: "b", capture: &seen}

	o.RegisterNodes([]Node{a, b})
	o.AddEdge(Edge{From: "a", To: "b"})

	_, err := o.Execute(context.Background(), "a", Payload{"value": "initial", "extra": 7}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if seen["value"] != "from-a" {
		t.Errorf("Predecessor output should override the initial payload, got %v", seen["value"])
	}
	if seen["extra"] != 7 {
		t.Errorf("Initial keys without conflicts should pass through, got %v", seen["extra"])
	}
}

type captureNode struct {
	id      string
	capture *Payload
}

func (n *captureNode) ID() string { return n.id }

func (n *captureNode) Execute(ctx context.Context, input Payload, wctx Context) (Payload, error) {
	*n.capture = input
	return Payload{}, nil
}

func TestOrchestrator_Execute_FailureStopsChain(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a"}
	b := &recordingNode{id: "b", err: fmt.Errorf("boom")}
	c := &recordingNode{id: "c"}
	o.RegisterNodes([]Node{a, b, c})
	o.AddEdges([]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}})

	result, err := o.Execute(context.Background(), "a", nil, nil)
	if err != nil {
		t.Fatalf("Node failures should be reported in the result, not as an error: %v", err)
	}

	if result.Success {
		t.Error("Result should not be successful")
	}
	if result.FailedNode != "b" {
		t.Errorf("Expected failure at node b, got %s", result.FailedNode)
	}
	if result.Error == "" {
		t.Error("Result should carry the failure message")
	}
	if c.executed {
		t.Error("Nodes after the failure should not execute")
	}
}

func TestOrchestrator_Execute_ErrorHandlerRecovers(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a"}
	b := &recoveringNode{recordingNode: recordingNode{id: "b", err: fmt.Errorf("transient")}}
	c := &recordingNode{id: "c"}
	o.RegisterNodes([]Node{a, b, c})
	o.AddEdges([]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}})

	result, err := o.Execute(context.Background(), "a", nil, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Recovered chain should succeed, failed at %s: %s", result.FailedNode, result.Error)
	}
	if !b.recovered {
		t.Error("OnError should have been invoked")
	}
	if !c.executed {
		t.Error("Chain should continue after recovery")
	}
	if result.NodeOutputs["b"]["fallback"] != true {
		t.Errorf("Node b output should be the fallback payload, got %v", result.NodeOutputs["b"])
	}
}

func TestOrchestrator_Execute_StartsMidChain(t *testing.T) {
	o := NewOrchestrator()
	a := &recordingNode{id: "a"}
	b := &recordingNode{id: "b"}
	c := &recordingNode{id: "c"}
	o.RegisterNodes([]Node{a, b, c})
	o.AddEdges([]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}})

	result, err := o.Execute(context.Background(), "b", Payload{"seed": true}, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if a.executed {
		t.Error("Nodes before the entry node should not execute")
	}
	if !b.executed || !c.executed {
		t.Error("Entry node and its successors should execute")
	}
	if !result.Success {
		t.Errorf("Expected success, got failure: %s", result.Error)
	}
}

func TestOrchestrator_GetStats(t *testing.T) {
	o := NewOrchestrator()
	o.RegisterNodes([]Node{&recordingNode{id: "a"}, &recordingNode{id: "b"}})
	o.AddEdge(Edge{From: "a", To: "b"})
	o.AddEdge(Edge{From: "a", To: "b"}) // duplicate collapses

	stats := o.GetStats()
	if stats.Nodes != 2 {
		t.Errorf("Expected 2 nodes, got %d", stats.Nodes)
	}
	if stats.Edges != 1 {
		t.Errorf("Expected 1 edge after dedupe, got %d", stats.Edges)
	}

	o.Clear()
	stats = o.GetStats()
	if stats.Nodes != 0 || stats.Edges != 0 {
		t.Errorf("Clear should empty the graph, got %+v", stats)
	}
}
