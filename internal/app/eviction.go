package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wisplabs/wisp/internal/domain"
)

// scheduleGrace arms a one-shot check after the grace interval. The timer is
// never cancelled; it re-reads the member count at fire time and becomes a
// no-op when the room regained members or is already gone.
func (m *RoomManager) scheduleGrace(id domain.RoomID) {
	log.Debug().Str("module", "app.eviction").Str("room", string(id)).Dur("grace", m.grace).Msg("grace eviction scheduled")
	time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		r, ok := m.rooms[id]
		if !ok || len(r.members) > 0 {
			return
		}
		delete(m.rooms, id)
		log.Info().Str("module", "app.eviction").Str("room", string(id)).Msg("empty room evicted after grace")
	})
}

// Sweep deletes every room with zero members at the time of the call, with
// no grace consideration. Returns the number of rooms removed.
func (m *RoomManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rooms {
		if len(r.members) == 0 {
			delete(m.rooms, id)
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "app.eviction").Int("removed", n).Msg("sweep removed empty rooms")
	}
	return n
}

// StartSweeper runs the periodic sweep until ctx is cancelled.
func (m *RoomManager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info().Str("module", "app.eviction").Msg("sweeper stopped")
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
