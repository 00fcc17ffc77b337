package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/xancrypt/xancrypt/adapters/memory"
	"github.com/xancrypt/xancrypt/adapters/storetest"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/domain/ledger"
	"github.com/xancrypt/xancrypt/ports"
)

func TestLedgerStore(t *testing.T) {
	storetest.RunLedgerStore(t, func(t *testing.T) ports.LedgerStore {
		return memory.NewLedgerStore()
	})
}

func TestHistoryStore(t *testing.T) {
	storetest.RunHistoryStore(t, func(t *testing.T) ports.HistoryStore {
		return memory.NewHistoryStore()
	})
}

func TestLedgerStore_FindReturnsCopy(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	id := identity.Identity{DeviceID: "d1"}
	now := time.Now()

	if _, err := store.Append(ctx, id, ledger.Record{ID: "r1", Time: now, Files: 1}, now, time.Hour); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	e, _ := store.Find(ctx, identity.Resolve(id))
	e.Records[0].Files = 99

	again, _ := store.Find(ctx, identity.Resolve(id))
	if again.Records[0].Files != 1 {
		t.Error("mutating a returned entry must not change the store")
	}
}

func TestLedgerStore_FillsMissingIdentityFields(t *testing.T) {
	store := memory.NewLedgerStore()
	ctx := context.Background()
	now := time.Now()

	store.Append(ctx, identity.Identity{IP: "10.0.0.1"}, ledger.Record{ID: "r1", Time: now, Files: 1}, now, time.Hour)
	store.Append(ctx, identity.Identity{DeviceID: "d1", IP: "10.0.0.1"}, ledger.Record{ID: "r2", Time: now, Files: 1}, now, time.Hour)

	if store.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", store.Len())
	}
	e, err := store.Find(ctx, identity.Resolve(identity.Identity{DeviceID: "d1"}))
	if err != nil {
		t.Fatalf("lookup by the late device id failed: %v", err)
	}
	if len(e.Records) != 2 {
		t.Errorf("records = %d, want 2", len(e.Records))
	}
}

func TestLedgerStore_RejectsEmptyIdentity(t *testing.T) {
	store := memory.NewLedgerStore()
	now := time.Now()

	_, err := store.Append(context.Background(), identity.Identity{}, ledger.Record{ID: "r1", Time: now, Files: 1}, now, time.Hour)
	if err == nil {
		t.Error("expected an error for an identity with no fields")
	}
}
