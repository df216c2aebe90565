// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/benchtop/pkg/hp3457"
	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/sirupsen/logrus"
)

type memorySink struct {
	mu      sync.Mutex
	records []Record
	err     error
	closed  bool
}

func (m *memorySink) Write(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testRecord(value float64, at time.Time) Record {
	return Record{
		Instrument: "dmm",
		Model:      hp3457.Model,
		Time:       at,
		Value:      value,
		Unit:       "V",
		Digits:     6,
		Settings:   hp3457.Preset().String(),
		Status:     instrument.StatusReady,
	}
}

func TestFromReading(t *testing.T) {
	s := hp3457.Preset()
	r := instrument.Reading[hp3457.Settings]{
		Value:    1.5,
		Unit:     s.Unit(),
		Digits:   s.Digits(),
		Overflow: true,
		Settings: s,
		Time:     time.Unix(100, 0),
	}
	st := instrument.DecodeStatus(instrument.StatusReady | instrument.StatusHighLow)

	rec := FromReading("dmm", hp3457.Model, r, st)
	if rec.Instrument != "dmm" || rec.Model != hp3457.Model {
		t.Errorf("FromReading() identity = %q/%q", rec.Instrument, rec.Model)
	}
	if rec.Value != 1.5 || !rec.Overflow || rec.Unit != s.Unit() {
		t.Errorf("FromReading() = %+v", rec)
	}
	if rec.Settings != s.String() {
		t.Errorf("FromReading().Settings = %q, want %q", rec.Settings, s.String())
	}
	if rec.Status != st.Raw {
		t.Errorf("FromReading().Status = 0x%02X, want 0x%02X", rec.Status, st.Raw)
	}
}

func TestFanout_ContinuesPastFailingSink(t *testing.T) {
	bad := &memorySink{err: errors.New("disk full")}
	good := &memorySink{}
	f := NewFanout(quietLogger(), bad, good)

	err := f.Write(context.Background(), testRecord(1, time.Now()))
	if err == nil {
		t.Error("Write() error = nil, want the failing sink's error")
	}
	if len(good.records) != 1 {
		t.Errorf("good sink got %d records, want 1", len(good.records))
	}

	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !bad.closed || !good.closed {
		t.Error("Close() did not close every sink")
	}
}

func TestRecorder_TagsLastStatus(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder[hp3457.Settings]("dmm", hp3457.Model, sink, quietLogger())
	var obs instrument.Observer[hp3457.Settings] = Observers[hp3457.Settings]{rec}

	obs.OnStatusChanged(instrument.DecodeStatus(0x10))
	obs.OnReading(instrument.Reading[hp3457.Settings]{Value: 1, Settings: hp3457.Preset()})
	obs.OnStatusChanged(instrument.DecodeStatus(0x30))
	obs.OnReading(instrument.Reading[hp3457.Settings]{Value: 2, Settings: hp3457.Preset()})

	if len(sink.records) != 2 {
		t.Fatalf("got %d records, want 2", len(sink.records))
	}
	if sink.records[0].Status != 0x10 || sink.records[1].Status != 0x30 {
		t.Errorf("statuses = 0x%02X, 0x%02X, want 0x10, 0x30", sink.records[0].Status, sink.records[1].Status)
	}
}

func TestCapture_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cbor")
	c, err := CreateCapture(path)
	if err != nil {
		t.Fatalf("CreateCapture() error = %v", err)
	}

	base := time.Unix(1700000000, 0).UTC()
	want := []Record{testRecord(1.25, base), testRecord(-3e-6, base.Add(time.Second))}
	want[1].Error = true
	want[1].Message = "error register 0x0002"
	for _, r := range want {
		if err := c.Write(context.Background(), r); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got, err := ReadCapture(path)
	if err != nil {
		t.Fatalf("ReadCapture() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("ReadCapture() returned %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Value != want[i].Value || !got[i].Time.Equal(want[i].Time) || got[i].Message != want[i].Message {
			t.Errorf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCapture_TruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cut.cbor")
	c, _ := CreateCapture(path)
	_ = c.Write(context.Background(), testRecord(1, time.Now()))
	_ = c.Close()

	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCapture(path); err == nil {
		t.Error("ReadCapture() of truncated file succeeded, want error")
	}
}

func TestSQLite_WriteRecent(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		if err := db.Write(ctx, testRecord(float64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	other := testRecord(99, base)
	other.Instrument = "meter"
	_ = db.Write(ctx, other)

	n, err := db.Count(ctx, "dmm")
	if err != nil || n != 5 {
		t.Errorf("Count() = %d, %v, want 5", n, err)
	}

	recent, err := db.Recent(ctx, "dmm", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recent) != 2 || recent[0].Value != 4 || recent[1].Value != 3 {
		t.Errorf("Recent() = %+v, want values 4 and 3", recent)
	}
	if recent[0].Status != instrument.StatusReady || !recent[0].Time.Equal(base.Add(4*time.Second)) {
		t.Errorf("Recent()[0] = %+v", recent[0])
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	_ = db.Write(context.Background(), testRecord(1, time.Now()))
	db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("second OpenSQLite() error = %v", err)
	}
	defer db.Close()
	if n, _ := db.Count(context.Background(), "dmm"); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}

// Needs a live server: BENCHTOP_REDIS_ADDR=localhost:6379
func TestRedis_Publish(t *testing.T) {
	addr := os.Getenv("BENCHTOP_REDIS_ADDR")
	if addr == "" {
		t.Skip("BENCHTOP_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, RedisOptions{Addr: addr, Channel: "benchtop:test"}, quietLogger())
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	defer r.Close()

	rec := testRecord(7, time.Now())
	rec.Instrument = "redis-test"
	r.client.Del(ctx, ListKey(rec.Instrument))
	if err := r.Write(ctx, rec); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n := r.client.LLen(ctx, ListKey(rec.Instrument)).Val(); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}
