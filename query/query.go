package query

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"

	"Shopify/parquet-datasource/datasource"
)

// State is the lifecycle state of a protected query.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateStarted   State = "STARTED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED"
	StateSuccess   State = "SUCCESS"
	StateTimedOut  State = "TIMED_OUT"
)

// Final reports whether the query will not change state anymore.
func (s State) Final() bool {
	switch s {
	case StateCancelled, StateFailed, StateSuccess, StateTimedOut:
		return true
	}
	return false
}

// Status is a point-in-time view of one query execution.
type Status struct {
	State State
	// OutputLocation is the object storage prefix holding the query result
	// files, set once the query succeeds.
	OutputLocation string
	// Error carries the service failure message for non-success final
	// states.
	Error string
}

// Request describes one protected SQL query. Exactly one of SQL or
// AnalysisTemplateARN must be set; Params bind either client-side named
// query parameters or server-side template parameters.
type Request struct {
	SQL                 string
	AnalysisTemplateARN string
	MembershipID        string
	Params              map[string]string
	OutputBucket        string
	OutputPrefix        string
}

// Client is the query-service capability. Authentication, session handling
// and the wire protocol all live behind it.
type Client interface {
	StartProtectedQuery(ctx context.Context, req Request) (queryID string, err error)
	ProtectedQueryStatus(ctx context.Context, membershipID, queryID string) (Status, error)
}

// OutputCleanup deletes the result objects under a query's output location.
// OutputCleaner implements it against GCS.
type OutputCleanup interface {
	Cleanup(ctx context.Context, prefix string) error
}

// ErrQueryFailed marks queries that reached a non-success final state.
var ErrQueryFailed = errors.New("protected query did not succeed")

const defaultPollDelay = 2 * time.Second

type RunnerOption func(*Runner)

func WithPollDelay(delay time.Duration) RunnerOption {
	return func(r *Runner) { r.backoff = gax.Backoff{Initial: delay, Max: delay} }
}

// WithOutputCleaner enables deleting query output once a result is closed.
func WithOutputCleaner(cleaner OutputCleanup) RunnerOption {
	return func(r *Runner) { r.cleaner = cleaner }
}

// Runner submits protected queries and polls them to completion.
type Runner struct {
	logger  log.Logger
	client  Client
	backoff gax.Backoff
	cleaner OutputCleanup
}

func NewRunner(logger log.Logger, client Client, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Runner{
		logger: logger,
		client: client,
		backoff: gax.Backoff{
			Initial:    defaultPollDelay,
			Max:        30 * time.Second,
			Multiplier: 1.5,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start validates and submits the query, returning its execution ID.
func (r *Runner) Start(ctx context.Context, req Request) (string, error) {
	if (req.SQL == "") == (req.AnalysisTemplateARN == "") {
		return "", errors.New("exactly one of SQL or AnalysisTemplateARN must be supplied")
	}
	queryID, err := r.client.StartProtectedQuery(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "starting protected query")
	}
	level.Debug(r.logger).Log("msg", "started protected query", "query_id", queryID)
	return queryID, nil
}

// Wait polls the query until it reaches a final state, backing off between
// polls. Non-success final states surface as ErrQueryFailed with the
// service message attached.
func (r *Runner) Wait(ctx context.Context, membershipID, queryID string) (Status, error) {
	backoff := r.backoff
	var status Status
	for !status.State.Final() {
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return status, err
		}
		var err error
		status, err = r.client.ProtectedQueryStatus(ctx, membershipID, queryID)
		if err != nil {
			return status, errors.Wrap(err, "fetching protected query status")
		}
	}

	level.Debug(r.logger).Log("msg", "protected query finished", "query_id", queryID, "state", status.State)
	if status.State != StateSuccess {
		return status, errors.Wrapf(ErrQueryFailed, "state %s: %s", status.State, status.Error)
	}
	return status, nil
}

type readOptions struct {
	keepFiles  bool
	datasource []datasource.Option
}

type ReadOption func(*readOptions)

// WithoutKeepingFiles deletes the query output objects when the result is
// closed. The runner needs an output cleaner for this.
func WithoutKeepingFiles() ReadOption {
	return func(o *readOptions) { o.keepFiles = false }
}

// WithDatasourceOptions forwards options to the datasource opened over the
// query output.
func WithDatasourceOptions(opts ...datasource.Option) ReadOption {
	return func(o *readOptions) { o.datasource = opts }
}

// Result is a datasource over a finished query's output. Closing it deletes
// the output objects unless the files were kept.
type Result struct {
	*datasource.ParquetDatasource

	cleanup func(context.Context) error
}

func (r *Result) Close(ctx context.Context) error {
	if r.cleanup == nil {
		return nil
	}
	return r.cleanup(ctx)
}

// ReadSQLQuery submits the query, waits for it and opens a datasource over
// its output location. The filesystem name must be registered in the
// storage registry and point at the query output bucket. Output files are
// kept by default; see WithoutKeepingFiles.
func (r *Runner) ReadSQLQuery(ctx context.Context, req Request, filesystem string, opts ...ReadOption) (*Result, error) {
	o := readOptions{keepFiles: true}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.keepFiles && r.cleaner == nil {
		return nil, errors.New("cannot delete query output: no output cleaner configured")
	}

	queryID, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	status, err := r.Wait(ctx, req.MembershipID, queryID)
	if err != nil {
		return nil, err
	}
	source, err := datasource.NewParquetDatasource(r.logger, filesystem, status.OutputLocation, o.datasource...)
	if err != nil {
		return nil, err
	}

	result := &Result{ParquetDatasource: source}
	if !o.keepFiles {
		location := status.OutputLocation
		result.cleanup = func(ctx context.Context) error {
			level.Debug(r.logger).Log("msg", "deleting query output", "location", location)
			return r.cleaner.Cleanup(ctx, location)
		}
	}
	return result, nil
}
