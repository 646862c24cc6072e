package provisioning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/model"
)

func serverOfFixture(servers map[string]*model.ServerRecord) func(string) *model.ServerRecord {
	return func(id string) *model.ServerRecord { return servers[id] }
}

func TestRequestProvision_PicksLeastLoadedEligibleServer(t *testing.T) {
	b := bus.NewLocal()
	servers := map[string]*model.ServerRecord{
		"arena1": {ServerID: "arena1", Status: model.ServerRunning, LastHeartbeatAt: time.Now()},
		"arena2": {ServerID: "arena2", Status: model.ServerRunning, LastHeartbeatAt: time.Now().Add(-time.Minute)},
	}
	svc := NewService(b, "routingd", serverOfFixture(servers))
	svc.HandleAdvertisement(model.SlotFamilyAdvertisementMessage{ServerID: "arena1", FamilyID: "duel", AdvertisedCapacity: 10, CurrentSlotCount: 8})
	svc.HandleAdvertisement(model.SlotFamilyAdvertisementMessage{ServerID: "arena2", FamilyID: "duel", AdvertisedCapacity: 10, CurrentSlotCount: 2})

	var sent model.SlotProvisionCommand
	b.Subscribe(bus.TargetedChannel("slot.provision.command", "arena2"), func(ctx context.Context, env bus.Envelope) {
		require.NoError(t, env.Decode(&sent))
	})

	res := svc.RequestProvision(context.Background(), "duel", nil)
	require.True(t, res.Ok)
	assert.Equal(t, "arena2", res.ServerID)
	assert.Equal(t, "duel", sent.FamilyID)
}

func TestRequestProvision_NoEligibleServer(t *testing.T) {
	b := bus.NewLocal()
	servers := map[string]*model.ServerRecord{
		"arena1": {ServerID: "arena1", Status: model.ServerProvisioning, LastHeartbeatAt: time.Now()},
	}
	svc := NewService(b, "routingd", serverOfFixture(servers))
	svc.HandleAdvertisement(model.SlotFamilyAdvertisementMessage{ServerID: "arena1", FamilyID: "duel", AdvertisedCapacity: 10})

	res := svc.RequestProvision(context.Background(), "duel", nil)
	assert.False(t, res.Ok)
}

func TestRequestProvision_ThrottledWhileInFlight(t *testing.T) {
	b := bus.NewLocal()
	servers := map[string]*model.ServerRecord{
		"arena1": {ServerID: "arena1", Status: model.ServerRunning, LastHeartbeatAt: time.Now()},
	}
	svc := NewService(b, "routingd", serverOfFixture(servers))
	svc.HandleAdvertisement(model.SlotFamilyAdvertisementMessage{ServerID: "arena1", FamilyID: "duel", AdvertisedCapacity: 10})

	res := svc.RequestProvision(context.Background(), "duel", nil)
	require.True(t, res.Ok)

	res = svc.RequestProvision(context.Background(), "duel", nil)
	assert.False(t, res.Ok, "a second provision for the same family must be throttled while one is in flight")

	svc.ObserveAvailableSlot("duel")
}

func TestRequestProvision_AtCapacityExcluded(t *testing.T) {
	b := bus.NewLocal()
	servers := map[string]*model.ServerRecord{
		"arena1": {ServerID: "arena1", Status: model.ServerRunning, LastHeartbeatAt: time.Now()},
	}
	svc := NewService(b, "routingd", serverOfFixture(servers))
	svc.HandleAdvertisement(model.SlotFamilyAdvertisementMessage{ServerID: "arena1", FamilyID: "duel", AdvertisedCapacity: 5, CurrentSlotCount: 5})

	res := svc.RequestProvision(context.Background(), "duel", nil)
	assert.False(t, res.Ok)
}
