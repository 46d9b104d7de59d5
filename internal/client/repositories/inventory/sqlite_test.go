package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/fidolock/internal/client/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertEnrollment_InsertAndUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	// insert
	e1 := &models.Enrollment{
		VolumeUUID: "u1",
		Node:       "/dev/sda2",
		Slot:       1,
		TokenID:    0,
		Kind:       models.KindFIDO2,
		Credential: "cred1",
		Record:     json.RawMessage(`{"type":"t1"}`),
		Synced:     false,
	}
	require.NoError(t, r.UpsertEnrollment(ctx, e1))

	var node, kind, cred, record string
	var capsule []byte
	var tokenID, synced int
	err := db.QueryRow(`SELECT node, token_id, kind, credential, record, capsule, synced FROM enrollments WHERE volume_uuid=? AND slot=?`, "u1", 1).
		Scan(&node, &tokenID, &kind, &cred, &record, &capsule, &synced)
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda2", node)
	assert.Equal(t, 0, tokenID)
	assert.Equal(t, "fido2", kind)
	assert.Equal(t, "cred1", cred)
	assert.Equal(t, `{"type":"t1"}`, record)
	assert.Nil(t, capsule)
	assert.Equal(t, 0, synced)

	// update по тому же (volume_uuid, slot)
	e1b := &models.Enrollment{
		VolumeUUID: "u1",
		Node:       "/dev/nvme0n1p3",
		Slot:       1,
		TokenID:    2,
		Kind:       models.KindFIDO2,
		Credential: "cred2",
		Record:     json.RawMessage(`{"type":"t2"}`),
		Capsule:    []byte{0xca, 0xfe},
		Synced:     true,
	}
	require.NoError(t, r.UpsertEnrollment(ctx, e1b))

	err = db.QueryRow(`SELECT node, token_id, kind, credential, record, capsule, synced FROM enrollments WHERE volume_uuid=? AND slot=?`, "u1", 1).
		Scan(&node, &tokenID, &kind, &cred, &record, &capsule, &synced)
	require.NoError(t, err)
	assert.Equal(t, "/dev/nvme0n1p3", node)
	assert.Equal(t, 2, tokenID)
	assert.Equal(t, "cred2", cred)
	assert.Equal(t, `{"type":"t2"}`, record)
	assert.Equal(t, []byte{0xca, 0xfe}, capsule)
	assert.Equal(t, 1, synced) // updated
}

func TestListEnrollments_OrderedByVolumeAndSlot(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO enrollments(volume_uuid, node, slot, token_id, kind, credential, record, synced) VALUES
	  ('u2', '/dev/sdb1', 0, 0, 'fido2', 'c', '{"type":"x"}', 0),
	  ('u1', '/dev/sda2', 2, 1, 'recovery', '', '', 1),
	  ('u1', '/dev/sda2', 1, 0, 'fido2', 'c', '{"type":"y"}', 0)
	`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)
	got, err := r.ListEnrollments(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "u1", got[0].VolumeUUID)
	assert.Equal(t, 1, got[0].Slot)
	assert.Equal(t, json.RawMessage(`{"type":"y"}`), got[0].Record)
	assert.Equal(t, "u1", got[1].VolumeUUID)
	assert.Equal(t, 2, got[1].Slot)
	assert.Nil(t, got[1].Record)
	assert.Equal(t, models.KindRecovery, got[1].Kind)
	assert.True(t, got[1].Synced)
	assert.Equal(t, "u2", got[2].VolumeUUID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestListUnsynced_ReturnsOnlyUnsynced(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	// seed: две несинхронизированные, одна уже на сервере
	_, err := db.Exec(`INSERT INTO enrollments(volume_uuid, node, slot, token_id, kind, credential, synced) VALUES
	  ('a', '/dev/sda1', 1, 0, 'fido2', 'c', 0),
	  ('b', '/dev/sdb1', 1, 0, 'fido2', 'c', 0),
	  ('c', '/dev/sdc1', 1, 0, 'fido2', 'c', 1)
	`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)
	got, err := r.ListUnsynced(ctx)
	require.NoError(t, err)

	uuids := make(map[string]struct{})
	for _, e := range got {
		uuids[e.VolumeUUID] = struct{}{}
		require.False(t, e.Synced)
	}
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, uuids)
}

func TestMarkSynced_SuccessAndNotFound(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO enrollments(volume_uuid, node, slot, token_id, kind, credential, synced)
	                   VALUES ('x', '/dev/sda1', 3, 0, 'fido2', 'c', 0)`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)

	require.NoError(t, r.MarkSynced(ctx, "x", 3))

	var synced int
	require.NoError(t, db.QueryRow(`SELECT synced FROM enrollments WHERE volume_uuid='x' AND slot=3`).Scan(&synced))
	assert.Equal(t, 1, synced)

	err = r.MarkSynced(ctx, "x", 99)
	require.Error(t, err)
}

func TestDeleteEnrollment_SuccessAndNotFound(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO enrollments(volume_uuid, node, slot, token_id, kind, credential, synced)
	                   VALUES ('x', '/dev/sda1', 1, 0, 'fido2', 'c', 0)`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)

	require.NoError(t, r.DeleteEnrollment(ctx, "x", 1))

	err = r.DeleteEnrollment(ctx, "x", 1)
	require.Error(t, err)
}

func TestDeleteVolume_RemovesAllSlots(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO enrollments(volume_uuid, node, slot, token_id, kind, credential, synced) VALUES
	  ('v', '/dev/sda1', 1, 0, 'fido2', 'c', 0),
	  ('v', '/dev/sda1', 2, 1, 'recovery', '', 0),
	  ('w', '/dev/sdb1', 1, 0, 'fido2', 'c', 0)
	`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)

	require.NoError(t, r.DeleteVolume(ctx, "v"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM enrollments`).Scan(&n))
	assert.Equal(t, 1, n)

	// удаление несуществующего тома не ошибка
	require.NoError(t, r.DeleteVolume(ctx, "nope"))
}

func TestMeta_SetGetDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	got, err := r.GetMeta(ctx, "agent_id")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.SetMeta(ctx, "agent_id", []byte("abc")))

	got, err = r.GetMeta(ctx, "agent_id")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	// overwrite
	require.NoError(t, r.SetMeta(ctx, "agent_id", []byte("def")))
	got, err = r.GetMeta(ctx, "agent_id")
	require.NoError(t, err)
	assert.Equal(t, []byte("def"), got)

	require.NoError(t, r.DeleteMeta(ctx, "agent_id"))
	got, err = r.GetMeta(ctx, "agent_id")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.DeleteMeta(ctx, "agent_id"))
}
