package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/nemwellington/vendanozap/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUpserter struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (u *recordingUpserter) Upsert(ctx context.Context, tenantID int64, channelID, name string, isGroup bool) (*model.Contact, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if channelID == u.failOn {
		return nil, errors.New("store down")
	}
	u.calls = append(u.calls, channelID)
	return &model.Contact{TenantID: tenantID, ChannelID: channelID, Name: name}, nil
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Maria Silva", "Maria Silva"},
		{"control characters", "Jo\x01\x1fão", "João"},
		{"quotes and backslashes", `Ana "a" \'s`, "Ana a s"},
		{"replacement character", "Pedro�", "Pedro"},
		{"unpaired surrogate bytes", "Luca\xed\xa0\xbds", "Lucas"},
		{"invalid utf8 byte", "Rita\xff", "Rita"},
		{"everything stripped", "\x00\x1f�", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestReconcileFiltersAndSanitizes(t *testing.T) {
	store := &recordingUpserter{}
	r := NewContactReconciler(t.TempDir(), store)

	raw := []model.RawContact{
		{ID: "5511999990000@s.whatsapp.net", Name: "Cli\x01ente�"},
		{ID: "status@broadcast", Name: "ignored"},
		{ID: "12345@broadcast", Name: "ignored"},
		{ID: "999888777-group@g.us", Name: "ignored"},
		{ID: "5511888880000:12@s.whatsapp.net", Name: ""},
	}

	accepted, rejected, err := r.Reconcile(context.Background(), 3, raw)
	require.NoError(t, err)
	assert.Equal(t, 3, rejected)
	require.Len(t, accepted, 2)
	assert.Equal(t, "Cliente", accepted[0].Name)
	// No name: falls back to the sanitized channel-id fragment.
	assert.Equal(t, "5511888880000", accepted[1].Name)

	// The snapshot is valid structured content with the same entries.
	data, err := os.ReadFile(r.SnapshotPath(3))
	require.NoError(t, err)
	var persisted []model.SnapshotContact
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, accepted, persisted)
	for _, c := range persisted {
		for _, ch := range c.Name {
			assert.GreaterOrEqual(t, ch, rune(0x20))
			assert.NotEqual(t, rune(0xFFFD), ch)
		}
	}

	// Both accepted contacts reached the store.
	assert.Equal(t, []string{"5511999990000@s.whatsapp.net", "5511888880000:12@s.whatsapp.net"}, store.calls)
}

func TestReconcileIdempotent(t *testing.T) {
	r := NewContactReconciler(t.TempDir(), &recordingUpserter{})
	raw := []model.RawContact{
		{ID: "5511999990000@s.whatsapp.net", Name: "Cliente"},
		{ID: "5511888880000@s.whatsapp.net", Name: "Outra"},
	}

	_, _, err := r.Reconcile(context.Background(), 9, raw)
	require.NoError(t, err)
	first, err := os.ReadFile(r.SnapshotPath(9))
	require.NoError(t, err)

	_, _, err = r.Reconcile(context.Background(), 9, raw)
	require.NoError(t, err)
	second, err := os.ReadFile(r.SnapshotPath(9))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReconcileUpsertFailureDoesNotAbort(t *testing.T) {
	store := &recordingUpserter{failOn: "5511999990000@s.whatsapp.net"}
	r := NewContactReconciler(t.TempDir(), store)

	raw := []model.RawContact{
		{ID: "5511999990000@s.whatsapp.net", Name: "Quebra"},
		{ID: "5511888880000@s.whatsapp.net", Name: "Segue"},
	}

	accepted, _, err := r.Reconcile(context.Background(), 4, raw)
	require.NoError(t, err)
	assert.Len(t, accepted, 2)

	// The snapshot was written despite the failed upsert, and the other
	// contact still went through.
	_, statErr := os.Stat(r.SnapshotPath(4))
	assert.NoError(t, statErr)
	assert.Equal(t, []string{"5511888880000@s.whatsapp.net"}, store.calls)
}

func TestReconcileTenantsIsolated(t *testing.T) {
	r := NewContactReconciler(t.TempDir(), &recordingUpserter{})

	_, _, err := r.Reconcile(context.Background(), 1, []model.RawContact{{ID: "111@s.whatsapp.net", Name: "A"}})
	require.NoError(t, err)
	_, _, err = r.Reconcile(context.Background(), 2, []model.RawContact{{ID: "222@s.whatsapp.net", Name: "B"}})
	require.NoError(t, err)

	assert.NotEqual(t, r.SnapshotPath(1), r.SnapshotPath(2))
	one, err := os.ReadFile(r.SnapshotPath(1))
	require.NoError(t, err)
	two, err := os.ReadFile(r.SnapshotPath(2))
	require.NoError(t, err)
	assert.NotEqual(t, one, two)
}
