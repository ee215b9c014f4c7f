package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"calsync-agent/internal/domain"
)

type mockReplicaRepo struct {
	mu          sync.Mutex
	records     map[string]domain.ReplicaRecord
	devices     map[string]domain.DeviceRecord
	batches     [][]domain.ReplicaRecord
	failBatch   map[int]bool
	conflicted  map[string]bool
	registerErr error
	pageCalls   int
}

func newMockReplicaRepo() *mockReplicaRepo {
	return &mockReplicaRepo{
		records:    make(map[string]domain.ReplicaRecord),
		devices:    make(map[string]domain.DeviceRecord),
		failBatch:  make(map[int]bool),
		conflicted: make(map[string]bool),
	}
}

func (m *mockReplicaRepo) SaveBatch(records []domain.ReplicaRecord) (*domain.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.batches)
	m.batches = append(m.batches, records)
	if m.failBatch[call] {
		return nil, errors.New("bulk write failed")
	}

	result := &domain.BatchResult{}
	for _, record := range records {
		if m.conflicted[record.Key()] {
			result.Conflicted = append(result.Conflicted, record.Key())
			continue
		}
		m.records[record.Key()] = record
		result.Saved++
	}
	return result, nil
}

func (m *mockReplicaRepo) SaveRecord(record domain.ReplicaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conflicted, record.Key())
	m.records[record.Key()] = record
	return nil
}

func (m *mockReplicaRepo) GetRecord(key string) (*domain.ReplicaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[key]; ok {
		return &record, nil
	}
	return nil, nil
}

func (m *mockReplicaRepo) FetchPage(cursor string, limit int) ([]domain.ReplicaRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls++

	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
	}

	var page []domain.ReplicaRecord
	for i := start; i < len(keys) && len(page) < limit; i++ {
		page = append(page, m.records[keys[i]])
	}

	next := ""
	if start+len(page) < len(keys) {
		next = keys[start+len(page)]
	}
	return page, next, nil
}

func (m *mockReplicaRepo) RegisterDevice(device domain.DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.devices[device.DeviceID] = device
	return nil
}

func (m *mockReplicaRepo) ListDevices() ([]domain.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var devices []domain.DeviceRecord
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	return devices, nil
}

func testReplicationOptions() ReplicationOptions {
	return ReplicationOptions{
		DeviceID:        "device-a",
		DeviceName:      "laptop",
		BatchSize:       100,
		Fanout:          4,
		PageLimit:       200,
		OnlineThreshold: 5 * time.Minute,
	}
}

func seedCache(t *testing.T, events *mockEventRepo, count int, modified time.Time) {
	t.Helper()
	for i := 0; i < count; i++ {
		e := standup(pad3(i))
		e.LastModified = modified
		if err := events.Save(e, domain.SyncStatusPending); err != nil {
			t.Fatal(err)
		}
	}
}

func pad3(i int) string {
	digits := "0123456789"
	return "evt" + string([]byte{digits[i/100%10], digits[i/10%10], digits[i%10]})
}

func TestReplicationService_PushChunksBatches(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()
	seedCache(t, events, 250, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if len(replica.batches) != 3 {
		t.Fatalf("250 records in %d batches, want 3", len(replica.batches))
	}
	for i, batch := range replica.batches {
		if len(batch) > 100 {
			t.Errorf("batch %d has %d records, exceeds limit", i, len(batch))
		}
	}
	if len(replica.records) != 250 {
		t.Errorf("replica holds %d records, want 250", len(replica.records))
	}
}

func TestReplicationService_BatchFailureIsIsolated(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()
	replica.failBatch[0] = true
	seedCache(t, events, 250, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))

	opts := testReplicationOptions()
	opts.Fanout = 1 // deterministic batch order
	s := NewReplicationService(events, replica, opts)

	err := s.Sync(context.Background())
	if err == nil {
		t.Fatal("expected batch error to surface")
	}
	var batchErr *ReplicaBatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("error %v is not a ReplicaBatchError", err)
	}

	// The two healthy batches still landed.
	if len(replica.records) != 150 {
		t.Errorf("replica holds %d records, want 150 from surviving batches", len(replica.records))
	}
}

func TestReplicationService_WriteConflictLocalNewerWins(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	local := standup("evt1")
	local.Title = "Standup (local edit)"
	local.LastModified = base.Add(time.Minute)
	if err := events.Save(local, domain.SyncStatusPending); err != nil {
		t.Fatal(err)
	}

	server := standup("evt1")
	server.Title = "Standup (other device)"
	replica.records[server.Key()] = domain.ReplicaRecord{
		Event:        server,
		DeviceID:     "device-b",
		LastModified: base,
		Rev:          "2-abc",
	}
	replica.conflicted[server.Key()] = true

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	stored := replica.records[local.Key()]
	if stored.Event.Title != "Standup (local edit)" {
		t.Errorf("replica kept %q, want the newer local edit", stored.Event.Title)
	}
	if stored.Rev != "2-abc" {
		t.Errorf("re-put did not carry the server revision: %q", stored.Rev)
	}
}

func TestReplicationService_WriteConflictTieKeepsServer(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	local := standup("evt1")
	local.Title = "Standup (local edit)"
	local.LastModified = base
	if err := events.Save(local, domain.SyncStatusPending); err != nil {
		t.Fatal(err)
	}

	server := standup("evt1")
	server.Title = "Standup (other device)"
	server.LastModified = base
	replica.records[server.Key()] = domain.ReplicaRecord{
		Event:        server,
		DeviceID:     "device-b",
		LastModified: base,
		Rev:          "2-abc",
	}
	replica.conflicted[server.Key()] = true

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	stored := replica.records[local.Key()]
	if stored.Event.Title != "Standup (other device)" {
		t.Errorf("tie replaced the server value with %q", stored.Event.Title)
	}

	// The losing side absorbs the server's event.
	entry, _ := events.Get(local.Source, local.ID)
	if entry == nil || entry.Event.Title != "Standup (other device)" {
		t.Errorf("local cache did not absorb the server value: %+v", entry)
	}
}

func TestReplicationService_PullPaginatesFullSet(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 450; i++ {
		e := standup(pad3(i))
		replica.records[e.Key()] = domain.ReplicaRecord{
			Event:        e,
			DeviceID:     "device-b",
			LastModified: base,
		}
	}

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	all, _ := events.FetchAll()
	if len(all) != 450 {
		t.Errorf("cache holds %d events after pull, want 450", len(all))
	}
	if replica.pageCalls < 3 {
		t.Errorf("pull used %d pages for 450 records at limit 200, want at least 3", replica.pageCalls)
	}
}

func TestReplicationService_MergeKeepsStrictlyNewerLocal(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	local := standup("evt1")
	local.Title = "Standup (local edit)"
	local.LastModified = base.Add(time.Minute)
	if err := events.Save(local, domain.SyncStatusSynced); err != nil {
		t.Fatal(err)
	}

	remote := standup("evt1")
	remote.Title = "Standup (remote edit)"

	s := NewReplicationService(events, replica, testReplicationOptions())

	record := domain.ReplicaRecord{Event: remote, DeviceID: "device-b", LastModified: base}
	if err := s.mergeRemote(record); err != nil {
		t.Fatalf("mergeRemote() error = %v", err)
	}
	entry, _ := events.Get(local.Source, local.ID)
	if entry.Event.Title != "Standup (local edit)" {
		t.Errorf("newer local overwritten by older remote: %q", entry.Event.Title)
	}

	// Remote strictly newer takes over.
	record.LastModified = base.Add(2 * time.Minute)
	if err := s.mergeRemote(record); err != nil {
		t.Fatalf("mergeRemote() error = %v", err)
	}
	entry, _ = events.Get(local.Source, local.ID)
	if entry.Event.Title != "Standup (remote edit)" {
		t.Errorf("newer remote did not replace local: %q", entry.Event.Title)
	}
}

func TestReplicationService_UnreachableReplicaFailsCycle(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()
	replica.registerErr = errors.New("connection refused")
	seedCache(t, events, 5, time.Now())

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error when replica is unreachable")
	}

	if len(replica.batches) != 0 {
		t.Error("push attempted while offline")
	}
	if s.State() != domain.SyncStateIdle {
		t.Errorf("state after failed cycle = %s, want idle", s.State())
	}
}

func TestReplicationService_StateTransitions(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	s := NewReplicationService(events, replica, testReplicationOptions())
	states := s.Subscribe()

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	want := []domain.SyncState{domain.SyncStateSyncing, domain.SyncStateCompleted, domain.SyncStateIdle}
	for _, expected := range want {
		select {
		case got := <-states:
			if got != expected {
				t.Fatalf("state transition = %s, want %s", got, expected)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}
}

func TestReplicationService_HandleRemoteChangeDoesNotPush(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()
	seedCache(t, events, 3, time.Now())

	remote := standup("evt-remote")
	replica.records[remote.Key()] = domain.ReplicaRecord{
		Event:        remote,
		DeviceID:     "device-b",
		LastModified: time.Now(),
	}

	s := NewReplicationService(events, replica, testReplicationOptions())
	if err := s.HandleRemoteChange(context.Background()); err != nil {
		t.Fatalf("HandleRemoteChange() error = %v", err)
	}

	if len(replica.batches) != 0 {
		t.Error("remote change notification triggered a push")
	}
	if entry, _ := events.Get(remote.Source, remote.ID); entry == nil {
		t.Error("announced remote record not pulled into the cache")
	}
}

func TestReplicationService_ListOnlineDevices(t *testing.T) {
	events := newMockEventRepo()
	replica := newMockReplicaRepo()

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	replica.devices["fresh"] = domain.DeviceRecord{DeviceID: "fresh", DeviceName: "laptop", LastSeen: now.Add(-time.Minute)}
	replica.devices["stale"] = domain.DeviceRecord{DeviceID: "stale", DeviceName: "phone", LastSeen: now.Add(-time.Hour)}

	s := NewReplicationService(events, replica, testReplicationOptions())
	s.now = func() time.Time { return now }

	online, err := s.ListOnlineDevices()
	if err != nil {
		t.Fatalf("ListOnlineDevices() error = %v", err)
	}

	if len(online) != 1 || online[0].DeviceID != "fresh" {
		t.Errorf("online devices = %+v, want only fresh", online)
	}
}
