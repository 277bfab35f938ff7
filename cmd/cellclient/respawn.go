package main

import (
	"sync/atomic"

	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
	"cellwire/client/internal/world"
)

// respawner asks for a new cell with the configured nickname whenever the
// player dies. It is attached before the session exists, so bind is called
// once the session has been built.
type respawner struct {
	session.NopObserver
	nickname string
	log      *logging.Logger
	send     func(nick string) error
	deaths   atomic.Int64
}

func newRespawner(nickname string, logger *logging.Logger) *respawner {
	return &respawner{nickname: nickname, log: logger}
}

func (r *respawner) bind(send func(nick string) error) { r.send = send }

func (r *respawner) Death(last world.Entity) {
	r.deaths.Add(1)
	if r.send == nil {
		return
	}
	if err := r.send(r.nickname); err != nil {
		r.log.Warn("respawn request failed", logging.Uint32("cell", last.ID), logging.Error(err))
	}
}
