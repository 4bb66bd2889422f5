package workflow

import (
	"context"
	"errors"
	"time"
)

// ErrCircularDependency is returned when the registered node/edge set
// contains a cycle. This is a configuration error: no node executes.
var ErrCircularDependency = errors.New("circular dependency detected in workflow graph")

// ErrUnknownNode is returned when execution is requested from a node id that
// was never registered.
var ErrUnknownNode = errors.New("unknown workflow node")

// Payload is the data flowing between workflow nodes. Node inputs are built
// by shallow-merging the initial payload with every direct predecessor's
// output, later predecessors winning on key conflicts.
type Payload map[string]any

// Context carries execution-scoped values shared by all nodes of one run.
type Context map[string]any

// Node is a single unit of processing in a workflow graph.
type Node interface {
	ID() string
	Execute(ctx context.Context, input Payload, wctx Context) (Payload, error)
}

// ErrorHandler is an optional recovery capability. When a node implementing
// it fails, OnError produces a substitute output and the chain continues.
type ErrorHandler interface {
	OnError(ctx context.Context, execErr error, input Payload, wctx Context) (Payload, error)
}

// Edge declares that To depends on From.
type Edge struct {
	From string
	To   string
}

// Result bundles the outcome of one workflow execution.
type Result struct {
	Success     bool
	Output      Payload
	NodeOutputs map[string]Payload
	Error       string
	FailedNode  string
	Duration    time.Duration
	ExecutedAt  time.Time
	RetryCount  int
}

// Stats reports registered graph size for diagnostics.
type Stats struct {
	Nodes int
	Edges int
}
