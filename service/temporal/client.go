package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/capfriends/service/metrics"
	"github.com/brojonat/capfriends/service/swap"
	"go.temporal.io/sdk/client"
)

// WorkflowStarter is the subset of client.Client used to run confirmation
// workflows.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Client is a connection to Temporal used by the API server.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// WorkflowConfirmer implements swap.Confirmer by running
// AwaitConfirmationWorkflow, so a confirmation watch survives restarts of
// the process that submitted.
type WorkflowConfirmer struct {
	starter   WorkflowStarter
	taskQueue string
	chain     string
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ swap.Confirmer = (*WorkflowConfirmer)(nil)

// NewWorkflowConfirmer creates a confirmer that runs workflows on taskQueue.
// If metrics is nil, no metrics will be recorded.
func NewWorkflowConfirmer(starter WorkflowStarter, taskQueue, chain string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *WorkflowConfirmer {
	return &WorkflowConfirmer{
		starter:   starter,
		taskQueue: taskQueue,
		chain:     chain,
		timeout:   timeout,
		metrics:   m,
		logger:    logger,
	}
}

// WorkflowID returns the id of the confirmation workflow for handle.
// Starting the same id twice attaches to the running workflow.
func WorkflowID(handle string) string {
	return "confirm-" + handle
}

func (c *WorkflowConfirmer) Confirm(ctx context.Context, handle string, opts swap.ConfirmOptions) (*swap.Receipt, error) {
	id := WorkflowID(handle)
	start := time.Now()

	run, err := c.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, AwaitConfirmationWorkflow, AwaitConfirmationInput{
		Handle:         handle,
		Chain:          c.chain,
		SuccessMessage: opts.SuccessMessage,
		Timeout:        c.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("start confirmation workflow %s: %w", id, err)
	}

	c.logger.DebugContext(ctx, "confirmation workflow started",
		"workflow_id", id,
		"run_id", run.GetRunID(),
	)

	var result AwaitConfirmationResult
	err = run.Get(ctx, &result)

	status := StatusConfirmed
	if err != nil {
		status = StatusFailed
	}
	if c.metrics != nil {
		c.metrics.RecordWorkflowDuration(status, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("confirmation workflow %s: %w", id, err)
	}

	return &swap.Receipt{
		Handle:  handle,
		Block:   result.Block,
		GasUsed: result.GasUsed,
	}, nil
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
