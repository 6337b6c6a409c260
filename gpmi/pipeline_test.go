// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
)

func TestAggregateStatus(t *testing.T) {
	data := []struct {
		status []byte
		want   ReadResult
	}{
		{nil, ReadResult{}},
		{[]byte{StatusClean, StatusErased, StatusClean}, ReadResult{}},
		{[]byte{1, 3, StatusClean, StatusErased}, ReadResult{Corrected: 4}},
		{[]byte{StatusUncorrectable, 2, StatusUncorrectable}, ReadResult{Corrected: 2, Failed: 2}},
	}
	for i, line := range data {
		if r := AggregateStatus(line.status); r != line.want {
			t.Fatalf("#%d: %+v", i, r)
		}
	}
}

func TestECCStats_account(t *testing.T) {
	var s ECCStats
	if s.account(ReadResult{Corrected: 6}, 8) {
		t.Fatal("below threshold")
	}
	if !s.account(ReadResult{Corrected: 7}, 8) {
		t.Fatal("at threshold")
	}
	if !s.account(ReadResult{Corrected: 1, Failed: 1}, 8) {
		t.Fatal("failure")
	}
	if s != (ECCStats{Corrected: 8, Failed: 1}) {
		t.Fatalf("%+v", s)
	}
}

func TestCompletion(t *testing.T) {
	mock := clock.NewMock()
	c := newCompletion()
	c.complete()
	c.complete()
	if !c.wait(mock, time.Second) {
		t.Fatal("event lost")
	}
	c.complete()
	c.reinit()
	done := make(chan bool)
	go func() { done <- c.wait(mock, time.Second) }()
	if advanceUntil(mock, done) {
		t.Fatal("stale event")
	}
}

// advanceUntil moves mock forward until done yields.
func advanceUntil(mock *clock.Mock, done <-chan bool) bool {
	for {
		select {
		case v := <-done:
			return v
		case <-time.After(time.Millisecond):
			mock.Add(100 * time.Millisecond)
		}
	}
}

// stubChannel completes chains according to its flags.
type stubChannel struct {
	mu          sync.Mutex
	completeDMA bool
	bch         *completion
	submitted   []*Chain
	terminated  int
	err         error
}

func (s *stubChannel) Submit(c *Chain, done func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.submitted = append(s.submitted, c)
	if s.bch != nil {
		s.bch.complete()
	}
	if s.completeDMA {
		done()
	}
	return nil
}

func (s *stubChannel) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated++
	return nil
}

func newTestPipeline(t *testing.T, ch DMAChannel) (*pipeline, *clock.Mock) {
	mock := clock.NewMock()
	return &pipeline{
		log:        zaptest.NewLogger(t),
		clk:        mock,
		dmaTimeout: time.Second,
		eccTimeout: time.Second,
		channels:   []DMAChannel{ch},
		bchDone:    newCompletion(),
	}, mock
}

func TestPipeline_run(t *testing.T) {
	ch := &stubChannel{completeDMA: true}
	p, _ := newTestPipeline(t, ch)
	ch.bch = p.bchDone
	c, err := waitReady(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.run(c, false); err != nil {
		t.Fatal(err)
	}
	if err := p.run(c, true); err != nil {
		t.Fatal(err)
	}
	if len(ch.submitted) != 2 || ch.terminated != 0 {
		t.Fatalf("%d submitted, %d terminated", len(ch.submitted), ch.terminated)
	}
}

func TestPipeline_run_noChannel(t *testing.T) {
	p, _ := newTestPipeline(t, &stubChannel{completeDMA: true})
	c, err := waitReady(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.run(c, false); err == nil {
		t.Fatal("expected error")
	}
}

func TestPipeline_run_submitError(t *testing.T) {
	p, _ := newTestPipeline(t, &stubChannel{err: errors.New("busy")})
	c, err := waitReady(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.run(c, false); err == nil || errors.Is(err, ErrDMATimeout) {
		t.Fatalf("got %v", err)
	}
}

func TestPipeline_run_dmaTimeout(t *testing.T) {
	ch := &stubChannel{}
	p, mock := newTestPipeline(t, ch)
	c, err := waitReady(0)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error)
	go func() { errc <- p.run(c, true) }()
	for err = nil; err == nil; {
		select {
		case err = <-errc:
		case <-time.After(time.Millisecond):
			mock.Add(100 * time.Millisecond)
		}
	}
	if !errors.Is(err, ErrDMATimeout) {
		t.Fatal(err)
	}
	if !strings.HasPrefix(err.Error(), "gpmi: ") {
		t.Fatalf("missing package prefix: %q", err)
	}
	if ch.terminated != 1 {
		t.Fatal("channel not terminated")
	}
}

func TestPipeline_run_eccTimeout(t *testing.T) {
	ch := &stubChannel{completeDMA: true}
	p, mock := newTestPipeline(t, ch)
	// A completion left over from a previous transfer must not count.
	p.bchDone.complete()
	c, err := waitReady(0)
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error)
	go func() { errc <- p.run(c, true) }()
	for err = nil; err == nil; {
		select {
		case err = <-errc:
		case <-time.After(time.Millisecond):
			mock.Add(100 * time.Millisecond)
		}
	}
	if !errors.Is(err, ErrECCTimeout) {
		t.Fatal(err)
	}
	if !strings.HasPrefix(err.Error(), "gpmi: ") {
		t.Fatalf("missing package prefix: %q", err)
	}
	if ch.terminated != 0 {
		t.Fatal("channel terminated after a BCH timeout")
	}
}
