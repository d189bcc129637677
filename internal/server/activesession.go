package server

import (
	"errors"
	"net"
	"sort"
	"sync/atomic"
	"time"

	mux "github.com/cbeuw/tangle/internal/multiplex"
)

var ErrSessionNotFound = errors.New("session not found")
var errShuttingDown = errors.New("server is shutting down")

type liveSession struct {
	*mux.Session
	remoteAddr string
	start      time.Time
}

// SessionInfo is what the admin API reports about a live session
type SessionInfo struct {
	mux.SessionStats
	RemoteAddr string
	Start      time.Time
}

func (ls *liveSession) info() SessionInfo {
	return SessionInfo{
		SessionStats: ls.Stats(),
		RemoteAddr:   ls.remoteAddr,
		Start:        ls.start,
	}
}

// addSession makes an acceptor session over conn and registers it
func (sta *State) addSession(conn net.Conn) (*liveSession, error) {
	config := sta.SessionConfig
	config.Valve = mux.MakeValve(sta.rxRate, sta.txRate)

	sta.sessionsM.Lock()
	defer sta.sessionsM.Unlock()
	if sta.draining {
		return nil, errShuttingDown
	}
	id := atomic.AddUint32(&sta.nextSessionID, 1)
	sesh, err := mux.MakeSession(id, conn, config)
	if err != nil {
		return nil, err
	}
	ls := &liveSession{
		Session:    sesh,
		remoteAddr: conn.RemoteAddr().String(),
		start:      sta.WorldState.Now(),
	}
	sta.sessions[id] = ls
	return ls, nil
}

// sessionUsage is the final usage of a session that has ended
func (sta *State) sessionUsage(ls *liveSession) SessionUsage {
	stats := ls.Stats()
	return SessionUsage{
		ID:          stats.ID,
		RemoteAddr:  ls.remoteAddr,
		Rx:          stats.Rx,
		Tx:          stats.Tx,
		Start:       ls.start.Unix(),
		End:         sta.WorldState.Now().Unix(),
		TerminalMsg: stats.TerminalMsg,
	}
}

// removeSession unregisters a session that has ended, moving its bytes into the ended totals
func (sta *State) removeSession(ls *liveSession, usage SessionUsage) {
	sta.sessionsM.Lock()
	defer sta.sessionsM.Unlock()
	delete(sta.sessions, ls.ID())
	sta.endedRx += usage.Rx
	sta.endedTx += usage.Tx
	if len(sta.sessions) == 0 {
		sta.sessionsGone.Broadcast()
	}
}

func (sta *State) waitSessionsGone() {
	sta.sessionsM.Lock()
	defer sta.sessionsM.Unlock()
	for len(sta.sessions) != 0 {
		sta.sessionsGone.Wait()
	}
}

// TotalBytes returns the bytes received and sent by every session since start
func (sta *State) TotalBytes() (rx int64, tx int64) {
	sta.sessionsM.RLock()
	defer sta.sessionsM.RUnlock()
	rx, tx = sta.endedRx, sta.endedTx
	for _, ls := range sta.sessions {
		stats := ls.Stats()
		rx += stats.Rx
		tx += stats.Tx
	}
	return
}

func (sta *State) getSession(id uint32) (*liveSession, bool) {
	sta.sessionsM.RLock()
	defer sta.sessionsM.RUnlock()
	ls, ok := sta.sessions[id]
	return ls, ok
}

// ListSessions returns the live sessions ordered by id
func (sta *State) ListSessions() []SessionInfo {
	sta.sessionsM.RLock()
	infos := make([]SessionInfo, 0, len(sta.sessions))
	for _, ls := range sta.sessions {
		infos = append(infos, ls.info())
	}
	sta.sessionsM.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (sta *State) GetSession(id uint32) (SessionInfo, error) {
	ls, ok := sta.getSession(id)
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return ls.info(), nil
}

// AbortSession kills a live session without draining it
func (sta *State) AbortSession(id uint32, reason string) error {
	ls, ok := sta.getSession(id)
	if !ok {
		return ErrSessionNotFound
	}
	if reason != "" {
		ls.SetTerminalMsg(reason)
	}
	ls.Abort()
	return nil
}

func (sta *State) NumSessions() int {
	sta.sessionsM.RLock()
	defer sta.sessionsM.RUnlock()
	return len(sta.sessions)
}

func (sta *State) snapshotSessions() []*liveSession {
	sta.sessionsM.RLock()
	defer sta.sessionsM.RUnlock()
	ret := make([]*liveSession, 0, len(sta.sessions))
	for _, ls := range sta.sessions {
		ret = append(ret, ls)
	}
	return ret
}
