package server

import (
	"errors"
	"fmt"
	"sync"

	mux "github.com/cbeuw/tangle/internal/multiplex"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Shutdown refuses new sessions and closes every live session gracefully, in parallel. Sessions
// that fail to drain are still closed, and their errors are collected in the returned error.
func (sta *State) Shutdown() error {
	sta.sessionsM.Lock()
	sta.draining = true
	sta.sessionsM.Unlock()

	sessions := sta.snapshotSessions()
	log.Infof("Shutting down %v sessions", len(sessions))

	var mu sync.Mutex
	var merr *multierror.Error
	var wg sync.WaitGroup
	for _, ls := range sessions {
		wg.Add(1)
		go func(ls *liveSession) {
			defer wg.Done()
			if ls.IsClosed() {
				return
			}
			ls.SetTerminalMsg("server shutting down")
			err := ls.Close()
			if err != nil && !errors.Is(err, mux.ErrSessionClosed) {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("session %v: %w", ls.ID(), err))
				mu.Unlock()
			}
		}(ls)
	}
	wg.Wait()

	// sessions are recorded by their dispatchers before they leave the registry
	sta.waitSessionsGone()
	if sta.Usage != nil {
		if err := sta.Usage.Close(); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("usage database: %w", err))
		}
	}
	return merr.ErrorOrNil()
}
