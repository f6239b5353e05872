package applier

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds the wait for the first connection.
const DefaultConnectTimeout = 10 * time.Second

// Conn is the part of *sql.DB a run needs. It is acquired once per run and
// closed on every exit path.
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Close() error
}

var _ Conn = (*sql.DB)(nil)

// Opener acquires the connection for a run. The context carries the
// connect timeout.
type Opener func(ctx context.Context) (Conn, error)

// Option configures an Applier.
type Option func(*Applier)

// WithStrategy selects the execution strategy. The default is Atomic.
func WithStrategy(s Strategy) Option {
	return func(a *Applier) { a.strategy = s }
}

// WithObserver attaches a progress observer.
func WithObserver(o Observer) Option {
	return func(a *Applier) { a.observer = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

// WithConnectTimeout bounds how long opening the connection may take.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *Applier) { a.connectTimeout = d }
}

// Applier applies a Plan to a database as a single all-or-nothing run.
// It keeps no state between runs.
type Applier struct {
	open           Opener
	strategy       Strategy
	observer       Observer
	logger         *zap.Logger
	connectTimeout time.Duration
}

// New creates an Applier that obtains its connection from open.
func New(open Opener, opts ...Option) *Applier {
	a := &Applier{
		open:           open,
		strategy:       Atomic{},
		observer:       nopObserver{},
		logger:         zap.NewNop(),
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Strategy returns the strategy the applier runs with.
func (a *Applier) Strategy() Strategy { return a.strategy }

// Run applies plan. Required files are checked before connecting, so a
// missing required file never reaches the database. The connection is
// closed before Run returns, whatever the outcome.
func (a *Applier) Run(ctx context.Context, plan Plan) (res Result, err error) {
	start := time.Now()
	ex := &Execution{
		observer: a.observer,
		logger:   a.logger,
		result:   Result{Strategy: a.strategy.Name(), Outcome: StateInit},
	}
	for _, f := range plan.Files {
		ex.result.Files = append(ex.result.Files, FileResult{File: f, Path: plan.Resolve(f), Status: FileNotRun})
	}
	ex.Transition(StateInit)

	if err = plan.Preflight(); err != nil {
		a.logger.Error("preflight failed", zap.Error(err))
		ex.result.Elapsed = time.Since(start)
		return ex.result, err
	}

	connCtx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	conn, err := a.open(connCtx)
	cancel()
	if err != nil {
		ex.result.Elapsed = time.Since(start)
		return ex.result, &ConnectError{Err: err}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			a.logger.Warn("close connection", zap.Error(cerr))
		}
		ex.Transition(StateClosed)
		ex.result.Elapsed = time.Since(start)
		res = ex.result
	}()
	ex.Transition(StateConnected)

	a.logger.Debug("executing plan",
		zap.String("strategy", a.strategy.Name()),
		zap.Int("files", len(plan.Files)),
	)
	err = a.strategy.Execute(ctx, conn, ex)
	return ex.result, err
}

// Execution is the state of one run as seen by a Strategy.
type Execution struct {
	observer Observer
	logger   *zap.Logger
	result   Result
}

// Len returns the number of planned files.
func (ex *Execution) Len() int { return len(ex.result.Files) }

// Transition moves the run to state s and notifies the observer.
func (ex *Execution) Transition(s State) {
	ex.result.State = s
	if s.Terminal() {
		ex.result.Outcome = s
	}
	ex.observer.OnState(s)
}

// Load reads the full text of file i. skip is true when the file is
// optional and absent; it is then recorded as skipped. A required file that
// has gone missing returns a *MissingFileError and any other read failure a
// *FileError.
func (ex *Execution) Load(i int) (text string, skip bool, err error) {
	fr := &ex.result.Files[i]
	data, err := os.ReadFile(fr.Path)
	if err == nil {
		return string(data), false, nil
	}
	if errors.Is(err, os.ErrNotExist) && fr.File.Optional {
		fr.Status = FileSkipped
		ex.logger.Warn("skipping missing optional file", zap.String("file", fr.Path))
		ex.observer.OnFile(*fr)
		return "", true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return "", false, &MissingFileError{Path: fr.Path, Err: err}
	}
	return "", false, &FileError{Path: fr.Path, Err: unwrapPath(err)}
}

// unwrapPath drops the *os.PathError wrapper, whose text repeats the path
// a FileError already names.
func unwrapPath(err error) error {
	var perr *os.PathError
	if errors.As(err, &perr) {
		return perr.Err
	}
	return err
}

// Applying marks file i as submitted.
func (ex *Execution) Applying(i int) {
	fr := &ex.result.Files[i]
	fr.Status = FileApplying
	ex.logger.Debug("applying file", zap.String("file", fr.Path))
	ex.observer.OnFile(*fr)
}

// Applied marks file i as applied with n statements executed.
func (ex *Execution) Applied(i, n int, elapsed time.Duration) {
	fr := &ex.result.Files[i]
	fr.Status = FileApplied
	fr.Statements = n
	fr.Elapsed = elapsed
	ex.logger.Info("file applied",
		zap.String("file", fr.Path),
		zap.Int("statements", n),
		zap.Duration("elapsed", elapsed),
	)
	ex.observer.OnFile(*fr)
}

// Failed marks file i as failed with err after n statements succeeded.
func (ex *Execution) Failed(i, n int, err error) {
	fr := &ex.result.Files[i]
	fr.Status = FileFailed
	fr.Statements = n
	fr.Err = err
	ex.logger.Error("file failed", zap.String("file", fr.Path), zap.Error(err))
	ex.observer.OnFile(*fr)
}

// Path returns the resolved path of file i.
func (ex *Execution) Path(i int) string { return ex.result.Files[i].Path }

// Logger returns the run's logger.
func (ex *Execution) Logger() *zap.Logger { return ex.logger }
