package archive

import "sync"

// registry tracks every live Archiver by session id, mirroring the
// transport layer's Hub session registry, so the admin surface can
// aggregate stats across sessions without threading a registry handle
// through the session state machine.
var registry sync.Map // map[string]*Archiver

func register(sessionID string, a *Archiver) {
	registry.Store(sessionID, a)
}

func unregister(sessionID string) {
	registry.Delete(sessionID)
}

// SessionStats pairs a live Archiver's counters with the session it belongs to.
type SessionStats struct {
	SessionID string
	Stats     Stats
}

// Snapshot reports Stats for every currently live Archiver.
func Snapshot() []SessionStats {
	var out []SessionStats
	registry.Range(func(key, value any) bool {
		sessionID, _ := key.(string)
		a, _ := value.(*Archiver)
		if a != nil {
			out = append(out, SessionStats{SessionID: sessionID, Stats: a.Stats()})
		}
		return true
	})
	return out
}
