package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/nemwellington/vendanozap/internal/model"
)

// ContactUpserter is the downstream store the reconciler feeds after the
// snapshot is safely on disk. Individual failures are logged, never fatal.
type ContactUpserter interface {
	Upsert(ctx context.Context, tenantID int64, channelID, name string, isGroup bool) (*model.Contact, error)
}

// ContactReconciler turns raw upstream contact batches into a per-tenant
// snapshot file plus best-effort store upserts. The pipeline is staged:
// filter, sanitize, validate-serializable, persist-snapshot, upsert — a
// failure in one stage is isolated and reported without discarding earlier
// stages.
type ContactReconciler struct {
	snapshotDir string
	store       ContactUpserter

	mu      sync.Mutex
	tenants map[int64]*sync.Mutex
}

func NewContactReconciler(snapshotDir string, store ContactUpserter) *ContactReconciler {
	return &ContactReconciler{
		snapshotDir: snapshotDir,
		store:       store,
		tenants:     make(map[int64]*sync.Mutex),
	}
}

// Reconcile processes one upstream batch for a tenant. It returns the
// accepted snapshot entries and how many raw contacts were filtered out.
func (r *ContactReconciler) Reconcile(ctx context.Context, tenantID int64, raw []model.RawContact) ([]model.SnapshotContact, int, error) {
	accepted := make([]model.SnapshotContact, 0, len(raw))
	for _, c := range raw {
		if !isPersonJID(c.ID) {
			continue
		}
		name := SanitizeName(c.Name)
		if name == "" {
			name = SanitizeName(channelFragment(c.ID))
		}
		accepted = append(accepted, model.SnapshotContact{ID: c.ID, Name: name})
	}
	rejected := len(raw) - len(accepted)

	data, err := json.MarshalIndent(accepted, "", "  ")
	if err != nil {
		// Whole batch rejected: a half-serializable snapshot must never
		// be written.
		return nil, rejected, &SerializationError{Err: err}
	}

	if err := r.writeSnapshot(tenantID, data); err != nil {
		return nil, rejected, err
	}

	// Downstream upsert is best-effort and independent of the snapshot.
	for _, c := range accepted {
		if _, err := r.store.Upsert(ctx, tenantID, c.ID, c.Name, false); err != nil {
			log.Printf("[Contacts] upsert %s for workspace %d failed: %v", c.ID, tenantID, err)
		}
	}

	return accepted, rejected, nil
}

// SnapshotPath is where a tenant's contact snapshot lives.
func (r *ContactReconciler) SnapshotPath(tenantID int64) string {
	return filepath.Join(r.snapshotDir, fmt.Sprintf("workspace%d", tenantID), "contacts.json")
}

// writeSnapshot replaces the tenant snapshot atomically: write a temporary
// file in the same directory, fsync, rename. Serialized per tenant so two
// batches cannot interleave their write-rename sequences.
func (r *ContactReconciler) writeSnapshot(tenantID int64, data []byte) error {
	lock := r.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	target := r.SnapshotPath(tenantID)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "contacts-*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (r *ContactReconciler) tenantLock(tenantID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		r.tenants[tenantID] = lock
	}
	return lock
}

// isPersonJID keeps only person identifiers: broadcast lists, status
// broadcasts and groups are routed elsewhere.
func isPersonJID(id string) bool {
	if id == "status@broadcast" || strings.HasSuffix(id, "@broadcast") {
		return false
	}
	return strings.HasSuffix(id, "@s.whatsapp.net")
}

// channelFragment derives a display-name fallback from the channel id:
// everything before the "@", stripped of any device suffix.
func channelFragment(id string) string {
	frag := id
	if at := strings.IndexByte(frag, '@'); at >= 0 {
		frag = frag[:at]
	}
	if colon := strings.IndexByte(frag, ':'); colon >= 0 {
		frag = frag[:colon]
	}
	return frag
}

// SanitizeName strips everything that would poison a stored document:
// control characters, quotes and backslashes, unpaired surrogate halves,
// replacement characters, and invalid UTF-8 bytes.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			// Invalid byte.
		case r < 0x20 || r == 0x7F:
		case r == '"' || r == '\\' || r == '\'':
		case utf16.IsSurrogate(r):
		case r == utf8.RuneError:
			// An explicit U+FFFD in the input is dropped like any other
			// replacement character.
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
