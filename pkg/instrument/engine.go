// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package instrument

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Bus is the blocking transport an engine drives. Implementations do not need
// to be safe for concurrent use; the engine serializes every call.
type Bus interface {
	Write(ctx context.Context, data []byte) error
	ReadUntilEOI(ctx context.Context) ([]byte, error)
	Clear(ctx context.Context) error
	SerialPoll(ctx context.Context) (byte, error)
}

// ServiceRequester is implemented by buses that can sample the SRQ line
// without a full serial poll.
type ServiceRequester interface {
	ServiceRequested(ctx context.Context) (bool, error)
}

// Observer receives everything the engine publishes. Calls are made from a
// single dispatcher goroutine, in publication order, never while the bus token
// is held by the caller.
type Observer[S Settings] interface {
	OnSettingsChanged(s S)
	OnStatusChanged(st Status)
	OnReading(r Reading[S])
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs[S Settings] struct {
	Settings func(S)
	Status   func(Status)
	Reading  func(Reading[S])
}

func (o ObserverFuncs[S]) OnSettingsChanged(s S) {
	if o.Settings != nil {
		o.Settings(s)
	}
}

func (o ObserverFuncs[S]) OnStatusChanged(st Status) {
	if o.Status != nil {
		o.Status(st)
	}
}

func (o ObserverFuncs[S]) OnReading(r Reading[S]) {
	if o.Reading != nil {
		o.Reading(r)
	}
}

// Profile binds a command table to the fixed protocol an instrument uses for
// status escalation and reading harvest.
type Profile[S Settings] struct {
	Model       string
	Table       *Table[S]
	Status      StatusProtocol
	ResetOpcode string // opcode that produces the initial snapshot
	CountQuery  string // stored reading count, e.g. "MCOUNT?;"
	ScaleQuery  string // integer scale factor, e.g. "ISCALE?;"
	TextWidth   int    // fixed width of ASCII readings
	MaxStored   int    // reading memory depth, DefaultMaxStored when zero
}

// Option configures an Engine
type Option func(*options)

type options struct {
	name       string
	log        logrus.FieldLogger
	timeout    time.Duration
	queueDepth int
	token      *Token
}

// WithName sets the instrument name used in logs and metrics
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option { return func(o *options) { o.log = log } }

// WithTimeout sets the default per-transaction timeout
func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

// WithQueueDepth sets the async command queue capacity
func WithQueueDepth(n int) Option { return func(o *options) { o.queueDepth = n } }

// WithToken shares a bus token between engines whose instruments sit on the
// same physical bus
func WithToken(t *Token) Option { return func(o *options) { o.token = t } }

// Token is the exclusive right to use one physical bus. Holding its single
// slot is the right to talk; blocked acquirers are served in arrival order.
type Token struct {
	ch chan struct{}
}

// NewToken creates a free bus token
func NewToken() *Token {
	return &Token{ch: make(chan struct{}, 1)}
}

func (t *Token) acquire(ctx context.Context) error {
	select {
	case t.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("waiting for bus: %w", ErrTimeout)
		}
		return ctx.Err()
	}
}

func (t *Token) tryAcquire() bool {
	select {
	case t.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Token) release() {
	<-t.ch
}

type queued[S Settings] struct {
	cmd  Command
	h    Handler[S]
	args Args
}

// Engine serializes all traffic to one instrument on a shared bus
type Engine[S Settings] struct {
	bus     Bus
	profile Profile[S]
	name    string
	log     logrus.FieldLogger
	timeout time.Duration

	token *Token

	settings atomic.Pointer[S]
	status   atomic.Pointer[Status]

	observer Observer[S]
	events   *dispatcher
	counters *counters

	queue     chan queued[S]
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	runDone chan struct{} // set while Run is active
}

// NewEngine creates an engine for one instrument. observer may be nil.
func NewEngine[S Settings](bus Bus, profile Profile[S], observer Observer[S], opts ...Option) *Engine[S] {
	o := options{
		log:        logrus.StandardLogger(),
		timeout:    DefaultTimeout,
		queueDepth: DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = profile.Model
	}
	if o.token == nil {
		o.token = NewToken()
	}

	return &Engine[S]{
		bus:     bus,
		profile: profile,
		name:    o.name,
		log: o.log.WithFields(logrus.Fields{
			"instrument": o.name,
			"model":      profile.Model,
		}),
		timeout:  o.timeout,
		token:    o.token,
		observer: observer,
		events:   newDispatcher(),
		counters: newCounters(o.name),
		queue:    make(chan queued[S], o.queueDepth),
		done:     make(chan struct{}),
	}
}

// Name returns the instrument name
func (e *Engine[S]) Name() string {
	return e.name
}

// Statistics returns a copy of the transaction statistics
func (e *Engine[S]) Statistics() Statistics {
	return e.counters.snapshot()
}

// ResetStatistics clears the transaction statistics. Prometheus counters are
// not affected.
func (e *Engine[S]) ResetStatistics() {
	e.counters.reset()
}

// Profile returns the instrument profile
func (e *Engine[S]) Profile() Profile[S] {
	return e.profile
}

// Settings returns the current snapshot, if one has been published
func (e *Engine[S]) Settings() (S, bool) {
	p := e.settings.Load()
	if p == nil {
		var zero S
		return zero, false
	}
	return *p, true
}

// Status returns the last published status, if any
func (e *Engine[S]) Status() (Status, bool) {
	p := e.status.Load()
	if p == nil {
		return Status{}, false
	}
	return *p, true
}

// Initialize clears the device and runs the reset opcode to produce the
// initial snapshot.
func (e *Engine[S]) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.acquire(ctx); err != nil {
		return err
	}
	err := e.bus.Clear(ctx)
	e.release()
	if err != nil {
		return e.transportError(ctx, "clear", "", err)
	}

	if _, err := e.Submit(ctx, NewCommand(e.profile.ResetOpcode, nil)); err != nil {
		return fmt.Errorf("initialize %s: %w", e.name, err)
	}
	e.log.Info("instrument initialized")
	return nil
}

// Submit validates and executes cmd. Synchronous commands block until the
// transaction and any follow-up status refresh finish. Async commands return
// as soon as they are queued for Run.
//
// When the settings were committed but the status refresh failed, Submit
// returns both the result and the refresh error.
func (e *Engine[S]) Submit(ctx context.Context, cmd Command) (Result, error) {
	if e.isClosed() {
		return Result{}, ErrClosed
	}

	h, args, err := e.prepare(cmd)
	if err != nil {
		e.counters.transaction(cmd.Opcode, ResultRejected, 0)
		return Result{}, err
	}

	if cmd.Async {
		return Result{}, e.enqueue(queued[S]{cmd: cmd, h: h, args: args})
	}
	return e.execute(ctx, cmd, h, args)
}

// enqueue hands q to Run. Close marks the engine closed under the same lock,
// so a command accepted here is always seen by the final drain.
func (e *Engine[S]) enqueue(q queued[S]) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return ErrClosed
	}
	select {
	case e.queue <- q:
		return nil
	default:
		return ErrQueueFull
	}
}

// prepare runs every check that does not need the bus
func (e *Engine[S]) prepare(cmd Command) (Handler[S], Args, error) {
	h, args, err := e.profile.Table.Validate(cmd)
	if err != nil {
		return h, nil, err
	}
	if err := e.precondition(h, args); err != nil {
		return h, nil, err
	}
	return h, args, nil
}

func (e *Engine[S]) precondition(h Handler[S], args Args) error {
	cur, ok := e.Settings()
	if h.NeedsSettings && !ok {
		return fmt.Errorf("%s: %w", h.Opcode, ErrNoSettings)
	}
	if h.Check != nil {
		return h.Check(cur, args)
	}
	return nil
}

func (e *Engine[S]) execute(ctx context.Context, cmd Command, h Handler[S], args Args) (Result, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	log := e.log.WithField("opcode", h.Opcode)

	if err := e.acquire(ctx); err != nil {
		e.counters.transaction(h.Opcode, ResultTimeout, time.Since(start))
		return Result{}, err
	}

	// The snapshot may have moved since Submit; check again under the token.
	if err := e.precondition(h, args); err != nil {
		e.release()
		e.counters.transaction(h.Opcode, ResultRejected, time.Since(start))
		return Result{}, err
	}
	cur, hasCur := e.Settings()

	var steps []Step
	if h.Render != nil {
		steps = h.Render(cur, args)
	}
	replies, err := e.run(ctx, steps)
	if err != nil {
		e.release()
		e.counters.transaction(h.Opcode, ResultTransport, time.Since(start))
		log.WithError(err).Error("transaction failed")
		return Result{}, err
	}

	var value interface{}
	if h.Parse != nil {
		value, err = h.Parse(replies)
		if err != nil {
			e.release()
			e.counters.transaction(h.Opcode, ResultProtocol, time.Since(start))
			log.WithError(err).Error("reply rejected")
			return Result{Replies: replies}, err
		}
	}

	changed := false
	var next S
	if h.Derive != nil {
		next = h.Derive(cur, args, value)
		changed = !hasCur || next != cur
		if changed {
			e.settings.Store(&next)
		}
	}
	e.release()

	e.counters.transaction(h.Opcode, ResultOK, time.Since(start))
	log.WithField("steps", len(steps)).Debug("transaction complete")

	result := Result{Replies: replies, Value: value}
	if !changed {
		return result, nil
	}

	e.publishSettings(next)
	if _, err := e.RefreshStatus(ctx); err != nil {
		return result, fmt.Errorf("status refresh after %s: %w", h.Opcode, err)
	}
	return result, nil
}

// RefreshStatus serial polls the instrument, escalates and publishes the result
func (e *Engine[S]) RefreshStatus(ctx context.Context) (Status, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := e.acquire(ctx); err != nil {
		return Status{}, err
	}
	st, err := e.pollStatus(ctx)
	e.release()
	if err != nil {
		return Status{}, err
	}
	e.publishStatus(st)
	return st, nil
}

// pollStatus reads tier 0 by serial poll and escalates. Caller holds the token.
func (e *Engine[S]) pollStatus(ctx context.Context) (Status, error) {
	raw, err := e.bus.SerialPoll(ctx)
	if err != nil {
		return Status{}, e.transportError(ctx, "poll", "", err)
	}
	return Escalate(ctx, DecodeStatus(raw), e.profile.Status, e.query)
}

// run executes steps strictly in order. Caller holds the token.
func (e *Engine[S]) run(ctx context.Context, steps []Step) ([][]byte, error) {
	var replies [][]byte
	for _, step := range steps {
		if !step.Read {
			if err := e.write(ctx, step.Wire); err != nil {
				return nil, err
			}
			continue
		}
		reply, err := e.query(ctx, step.Wire)
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

func (e *Engine[S]) write(ctx context.Context, wire string) error {
	e.log.WithField("wire", wire).Debug("bus write")
	if err := e.bus.Write(ctx, []byte(wire)); err != nil {
		return e.transportError(ctx, "write", wire, err)
	}
	return nil
}

func (e *Engine[S]) read(ctx context.Context) ([]byte, error) {
	reply, err := e.bus.ReadUntilEOI(ctx)
	if err != nil {
		return nil, e.transportError(ctx, "read", "", err)
	}
	e.log.WithField("reply", fmt.Sprintf("%q", reply)).Debug("bus read")
	return reply, nil
}

// query is the QueryFunc used for status escalation and harvest queries
func (e *Engine[S]) query(ctx context.Context, wire string) ([]byte, error) {
	if err := e.write(ctx, wire); err != nil {
		return nil, err
	}
	return e.read(ctx)
}

func (e *Engine[S]) transportError(ctx context.Context, op, wire string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return &TransportError{Op: op, Wire: wire, Cause: err}
}

func (e *Engine[S]) acquire(ctx context.Context) error { return e.token.acquire(ctx) }
func (e *Engine[S]) tryAcquire() bool                    { return e.token.tryAcquire() }
func (e *Engine[S]) release()                            { e.token.release() }

func (e *Engine[S]) publishSettings(s S) {
	if e.observer == nil {
		return
	}
	e.events.post(func() { e.observer.OnSettingsChanged(s) })
}

func (e *Engine[S]) publishStatus(st Status) {
	e.status.Store(&st)
	if e.observer == nil {
		return
	}
	e.events.post(func() { e.observer.OnStatusChanged(st) })
}

func (e *Engine[S]) publishReading(r Reading[S]) {
	e.counters.reading(true)
	if e.observer == nil {
		return
	}
	e.events.post(func() { e.observer.OnReading(r) })
}

// Run executes queued async commands until ctx is cancelled or the engine is
// closed. Failures are logged; there is nobody left to return them to.
func (e *Engine[S]) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.isClosed() {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.runDone != nil {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	runDone := make(chan struct{})
	e.runDone = runDone
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.runDone = nil
		e.mu.Unlock()
		close(runDone)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			e.drain(ctx)
			return nil
		case q := <-e.queue:
			e.runQueued(ctx, q)
		}
	}
}

func (e *Engine[S]) drain(ctx context.Context) {
	for {
		select {
		case q := <-e.queue:
			e.runQueued(ctx, q)
		default:
			return
		}
	}
}

func (e *Engine[S]) runQueued(ctx context.Context, q queued[S]) {
	if _, err := e.execute(ctx, q.cmd, q.h, q.args); err != nil {
		e.log.WithField("opcode", q.h.Opcode).WithError(err).Error("async command failed")
	}
}

// Close stops Run after it drains the queue, or drains it directly when Run is
// not active, then delivers every pending event to the observer.
func (e *Engine[S]) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		close(e.done)
		runDone := e.runDone
		e.mu.Unlock()

		if runDone != nil {
			<-runDone
		}
		// Run may have stopped on its context with commands still queued
		e.drain(context.Background())
		e.events.close()
	})
}

func (e *Engine[S]) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}
