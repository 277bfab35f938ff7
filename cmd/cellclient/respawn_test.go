package main

import (
	"errors"
	"testing"

	"cellwire/client/internal/logging"
	"cellwire/client/internal/session"
	"cellwire/client/internal/world"
)

var _ session.Observer = (*respawner)(nil)

func TestRespawnerRequestsNewCellOnDeath(t *testing.T) {
	r := newRespawner("blob", logging.NewTestLogger())
	r.Death(world.Entity{ID: 1})
	if r.deaths.Load() != 1 {
		t.Fatalf("death before bind should still be counted")
	}

	var sent []string
	r.bind(func(nick string) error {
		sent = append(sent, nick)
		return nil
	})
	r.Death(world.Entity{ID: 2})
	if len(sent) != 1 || sent[0] != "blob" {
		t.Fatalf("expected one respawn for blob, got %v", sent)
	}

	r.bind(func(string) error { return errors.New("not connected") })
	r.Death(world.Entity{ID: 3})
	if r.deaths.Load() != 3 {
		t.Fatalf("expected 3 deaths, got %d", r.deaths.Load())
	}
}
