package handoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slotfabric/matchcore/internal/model"
)

func TestStore_PutTake_ReadOnce(t *testing.T) {
	s := NewStore(DefaultTTL)
	s.Put(model.HandoffRecord{PlayerID: "p1", ServerID: "srv1", SlotID: "srv1:1"})

	rec, ok := s.Take("p1")
	assert.True(t, ok)
	assert.Equal(t, "srv1", rec.ServerID)

	_, ok = s.Take("p1")
	assert.False(t, ok, "a handoff record must be consumed exactly once")
}

func TestStore_Take_Expired(t *testing.T) {
	s := NewStore(5 * time.Millisecond)
	s.Put(model.HandoffRecord{PlayerID: "p1", ServerID: "srv1"})

	time.Sleep(10 * time.Millisecond)

	_, ok := s.Take("p1")
	assert.False(t, ok, "an expired record must not be returned")
}

func TestStore_GCExpired(t *testing.T) {
	s := NewStore(5 * time.Millisecond)
	s.Put(model.HandoffRecord{PlayerID: "p1"})
	s.Put(model.HandoffRecord{PlayerID: "p2"})
	assert.Equal(t, 2, s.Count())

	removed := s.GCExpired(time.Now().Add(time.Second))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, s.Count())
}

func TestStore_Take_Unknown(t *testing.T) {
	s := NewStore(DefaultTTL)
	_, ok := s.Take("nobody")
	assert.False(t, ok)
}
