// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/benchtop/pkg/archive"
	"github.com/Thermoquad/benchtop/pkg/gpib"
	"github.com/Thermoquad/benchtop/pkg/instrument"
)

type eventKind int

const (
	eventSettings eventKind = iota
	eventStatus
	eventReading
	eventConnection
)

// event is everything the session reports to a front end
type event struct {
	kind       eventKind
	instrument string
	time       time.Time
	text       string
	status     instrument.Status
	value      float64
	unit       string
	isError    bool
}

// session owns the controller connection and one engine per configured
// instrument, all sharing one bus token
type session struct {
	conn     *managedConn
	connInfo string
	ctl      *gpib.Controller
	token    *instrument.Token
	stations []station
	watcher  *gpib.Watcher
	sink     *archive.Fanout
	emit     func(event)

	done chan struct{}
	wg   sync.WaitGroup
}

// openSession connects to the controller and builds the engines. emit may be
// nil; it is called from engine dispatcher goroutines.
func openSession(ctx context.Context, emit func(event)) (*session, error) {
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("no instruments configured")
	}

	conn, connInfo, err := OpenConnection(cfg.Bus)
	if err != nil {
		return nil, err
	}

	s := &session{
		conn:     &managedConn{conn: conn, lost: make(chan struct{}, 1)},
		connInfo: connInfo,
		token:    instrument.NewToken(),
		done:     make(chan struct{}),
	}
	s.emit = func(ev event) {
		if ev.time.IsZero() {
			ev.time = time.Now()
		}
		if emit != nil {
			emit(ev)
		}
	}

	s.ctl, err = gpib.NewController(s.conn,
		gpib.WithEOTChar(byte(cfg.Bus.EOTChar)),
		gpib.WithReadTimeoutMs(cfg.Bus.ReadTimeoutMs),
		gpib.WithLogger(log))
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.sink, err = openSinks(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	var sink archive.Sink
	if s.sink.Len() > 0 {
		sink = s.sink
	}

	interval := time.Duration(0)
	for _, inst := range cfg.Instruments {
		dev, err := s.ctl.Device(inst.Address)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("instrument %q: %w", inst.Name, err)
		}
		st, err := newStation(inst, dev, s.token, sink, s.emit)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.stations = append(s.stations, st)
		if interval == 0 || inst.PollInterval() < interval {
			interval = inst.PollInterval()
		}
	}

	s.watcher = gpib.NewWatcher(interval, log)
	for _, st := range s.stations {
		s.watcher.Add(st.Name(), st)
	}
	return s, nil
}

// openSinks opens every archive sink named in the configuration
func openSinks(ctx context.Context) (*archive.Fanout, error) {
	var sinks []archive.Sink
	fail := func(err error) (*archive.Fanout, error) {
		archive.NewFanout(log, sinks...).Close()
		return nil, err
	}

	a := cfg.Archive
	if a.SQLite != "" {
		db, err := archive.OpenSQLite(a.SQLite)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, db)
	}
	if a.Capture != "" {
		c, err := archive.CreateCapture(a.Capture)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, c)
	}
	if a.RedisAddr != "" {
		r, err := archive.OpenRedis(ctx, archive.RedisOptions{
			Addr:     a.RedisAddr,
			Password: a.RedisPassword,
			DB:       a.RedisDB,
			Channel:  a.RedisChannel,
		}, log)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, r)
	}
	return archive.NewFanout(log, sinks...), nil
}

// start initializes every instrument and launches the async workers, the SRQ
// watcher and the reconnect loop. An instrument that fails to initialize is
// logged and left without settings.
func (s *session) start(ctx context.Context, watch bool) {
	for _, st := range s.stations {
		if err := st.Initialize(ctx); err != nil {
			log.WithField("instrument", st.Name()).WithError(err).Error("initialization failed")
			s.emit(event{kind: eventConnection, instrument: st.Name(), text: fmt.Sprintf("initialization failed: %v", err), isError: true})
		}
	}

	for _, st := range s.stations {
		st := st
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := st.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, instrument.ErrClosed) {
				log.WithField("instrument", st.Name()).WithError(err).Warn("worker stopped")
			}
		}()
	}
	if watch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watcher.Run(ctx)
		}()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reconnectLoop(ctx)
	}()
}

// station returns the instrument called name
func (s *session) station(name string) (station, bool) {
	for _, st := range s.stations {
		if st.Name() == name {
			return st, true
		}
	}
	return nil, false
}

// Close stops the engines and closes the sinks and the connection
func (s *session) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	for _, st := range s.stations {
		st.Close()
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.WithError(err).Warn("closing archive")
		}
	}
	s.conn.Close()
}

// reconnectLoop waits for the connection to fail and reconnects
func (s *session) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.conn.lost:
		}

		s.emit(event{kind: eventConnection, text: "Connection lost - reconnecting...", isError: true})
		if !s.reconnect(ctx) {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (s *session) reconnect(ctx context.Context) bool {
	s.conn.closeCurrent()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return false
		case <-s.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection(cfg.Bus)
		if err == nil {
			s.conn.replace(conn)
			if err := s.ctl.Reset(s.conn); err != nil {
				log.WithError(err).Warn("controller init after reconnect failed")
				continue
			}
			s.connInfo = connInfo
			s.emit(event{kind: eventConnection, text: "Reconnected: " + connInfo})
			return true
		}
		log.WithError(err).Debug("reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// managedConn lets the connection be replaced under the controller and
// reports the first hard failure of each connection
type managedConn struct {
	mu   sync.RWMutex
	conn Connection
	lost chan struct{}
	dead bool
}

func (m *managedConn) current() Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *managedConn) failed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dead {
		return
	}
	m.dead = true
	select {
	case m.lost <- struct{}{}:
	default:
	}
}

func (m *managedConn) Read(p []byte) (int, error) {
	n, err := m.current().Read(p)
	if err != nil {
		m.failed(err)
	}
	return n, err
}

func (m *managedConn) Write(p []byte) (int, error) {
	n, err := m.current().Write(p)
	if err != nil {
		m.failed(err)
	}
	return n, err
}

func (m *managedConn) SetReadTimeout(t time.Duration) error {
	return m.current().SetReadTimeout(t)
}

func (m *managedConn) closeCurrent() {
	m.current().Close()
}

func (m *managedConn) replace(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
	m.dead = false
}

func (m *managedConn) Close() error {
	return m.current().Close()
}
