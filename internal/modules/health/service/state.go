package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected   atomic.Bool
	safeMode      atomic.Bool
	lastTickUnix  atomic.Int64 // unix seconds
	lastBeatUnix  atomic.Int64
	occupiedSlots atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) SetSafeMode(v bool) { s.safeMode.Store(v) }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time   { return unix(s.lastTickUnix.Load()) }

// Beat: отметка heartbeat-цикла с текущей занятостью.
func (s *State) Beat(t time.Time, occupied int) {
	s.lastBeatUnix.Store(t.Unix())
	s.occupiedSlots.Store(int64(occupied))
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

type Snapshot struct {
	Ready         bool  `json:"ready"`
	WSConnected   bool  `json:"wsConnected"`
	SafeMode      bool  `json:"safeMode"`
	UptimeSec     int64 `json:"uptimeSec"`
	LastTickUnix  int64 `json:"lastTickUnix"`
	LastBeatUnix  int64 `json:"lastBeatUnix"`
	OccupiedSlots int64 `json:"occupiedSlots"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Ready:         s.Ready(),
		WSConnected:   s.WSConnected(),
		SafeMode:      s.safeMode.Load(),
		UptimeSec:     int64(s.Uptime().Seconds()),
		LastTickUnix:  s.lastTickUnix.Load(),
		LastBeatUnix:  s.lastBeatUnix.Load(),
		OccupiedSlots: s.occupiedSlots.Load(),
	}
}

func unix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
