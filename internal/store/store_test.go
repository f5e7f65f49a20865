package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamsinv/parley/internal/domain"
	"github.com/tamsinv/parley/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleItems() []domain.TranscriptItem {
	return []domain.TranscriptItem{
		{
			ID: "m1", Kind: domain.KindMessage,
			ParticipantID: "agent-1", ParticipantRole: domain.RoleAgent,
			DisplayName: "Avery", ContentType: domain.ContentTypeTextPlain,
			Content: "hello", Direction: domain.DirectionIncoming,
			Status: domain.StatusSendSuccess, SentTime: 1,
		},
		{
			ID: "m2", Kind: domain.KindAttachment,
			ParticipantID: "cust-1", ParticipantRole: domain.RoleCustomer,
			ContentType: "image/png", Content: "photo.png",
			Direction: domain.DirectionOutgoing, Status: domain.StatusRead,
			SentTime: 2, ReceiptType: domain.ReceiptRead,
			Attachment: &domain.Attachment{ID: "att-1", Filename: "photo.png", MimeType: "image/png", Size: 1024},
		},
	}
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestArchive_SaveAndLoad(t *testing.T) {
	archive := NewArchive(testDB(t))
	self := domain.Participant{ID: "cust-1", DisplayName: "Pat"}

	require.NoError(t, archive.Save("contact-1", self, sampleItems()))

	items, err := archive.Items("contact-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "m1", items[0].ID)
	assert.Equal(t, domain.RoleAgent, items[0].ParticipantRole)
	assert.Equal(t, domain.KindAttachment, items[1].Kind)
	require.NotNil(t, items[1].Attachment)
	assert.Equal(t, "photo.png", items[1].Attachment.Filename)
	assert.Equal(t, domain.ReceiptRead, items[1].ReceiptType)
}

func TestArchive_SaveOverwrites(t *testing.T) {
	archive := NewArchive(testDB(t))
	self := domain.Participant{ID: "cust-1"}

	require.NoError(t, archive.Save("contact-1", self, sampleItems()))
	require.NoError(t, archive.Save("contact-1", self, sampleItems()[:1]))

	items, err := archive.Items("contact-1")
	require.NoError(t, err)
	assert.Len(t, items, 1, "re-archiving replaces the previous snapshot")

	summaries, err := archive.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].ItemCount)
}

func TestArchive_List(t *testing.T) {
	archive := NewArchive(testDB(t))

	require.NoError(t, archive.Save("contact-a", domain.Participant{ID: "c1", DisplayName: "Pat"}, sampleItems()))
	require.NoError(t, archive.Save("contact-b", domain.Participant{ID: "c2"}, nil))

	summaries, err := archive.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.NotZero(t, summaries[0].ArchivedAt)
}

func TestArchive_Delete(t *testing.T) {
	archive := NewArchive(testDB(t))
	require.NoError(t, archive.Save("contact-1", domain.Participant{ID: "c1"}, sampleItems()))

	require.NoError(t, archive.Delete("contact-1"))

	items, err := archive.Items("contact-1")
	require.NoError(t, err)
	assert.Empty(t, items)

	summaries, err := archive.List()
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestArchive_ItemsUnknownContact(t *testing.T) {
	archive := NewArchive(testDB(t))
	items, err := archive.Items("nope")
	require.NoError(t, err)
	assert.Empty(t, items)
}
