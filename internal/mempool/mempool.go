// Copyright 2023 Crosslane Systems
// SPDX-License-Identifier: LGPL-3.0-only

package mempool

import (
	"container/list"
	"sync"
	"time"

	"github.com/ChainSafe/log15"
	"github.com/crosslane/taker/internal/constant"
	"github.com/crosslane/taker/order"
)

// Submitter re-drives a deferred event through the processor. Most
// resubmissions find the processor busy and land back in its queues.
type Submitter func(ev *order.Event)

type entry struct {
	ev    *order.Event
	added time.Time
}

// Service is the timer-driven retry ring of one destination chain. Orders
// rejected for soft reasons (unprofitable, unfunded, send failure) sit here
// and are resubmitted every interval. Entries leave only through Delete,
// a TTL expiry or the size cap.
type Service struct {
	interval time.Duration
	maxAge   time.Duration
	maxSize  int
	submit   Submitter
	log      log15.Logger

	mu    sync.Mutex
	ring  *list.List // *entry in insertion order
	index map[order.ID]*list.Element

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(interval time.Duration, submit Submitter, logger log15.Logger) *Service {
	if interval <= 0 {
		interval = constant.DefaultMempoolInterval
	}
	return &Service{
		interval: interval,
		maxAge:   constant.DefaultMempoolMaxAge,
		maxSize:  constant.DefaultMempoolMaxSize,
		submit:   submit,
		log:      logger,
		ring:     list.New(),
		index:    make(map[order.ID]*list.Element),
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.loop()
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// AddOrder stores the most recent event context for the order. Re-adding an
// order refreshes its context but keeps its position in the ring.
func (s *Service) AddOrder(ev *order.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[ev.OrderId]; ok {
		el.Value.(*entry).ev = ev
		return
	}
	if s.ring.Len() >= s.maxSize {
		oldest := s.ring.Front()
		if oldest != nil {
			old := oldest.Value.(*entry)
			s.ring.Remove(oldest)
			delete(s.index, old.ev.OrderId)
			s.log.Warn("Mempool full, evicting oldest order", "order", old.ev.OrderId)
		}
	}
	s.index[ev.OrderId] = s.ring.PushBack(&entry{ev: ev, added: time.Now()})
	s.log.Info("Order deferred to mempool", "order", ev.OrderId, "size", s.ring.Len())
}

func (s *Service) Delete(id order.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.index[id]; ok {
		s.ring.Remove(el)
		delete(s.index, id)
	}
}

func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick resubmits every live entry in insertion order. Entries are not
// removed on resubmission; removal happens when the processor observes a
// terminal event or fulfills the order.
func (s *Service) tick() {
	s.mu.Lock()
	now := time.Now()
	events := make([]*order.Event, 0, s.ring.Len())
	for el := s.ring.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if s.maxAge > 0 && now.Sub(e.added) > s.maxAge {
			s.ring.Remove(el)
			delete(s.index, e.ev.OrderId)
			s.log.Warn("Mempool entry expired", "order", e.ev.OrderId, "age", now.Sub(e.added))
		} else {
			events = append(events, e.ev)
		}
		el = next
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.submit(ev)
	}
}
