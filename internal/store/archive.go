package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tamsinv/parley/internal/domain"
)

// ContactSummary is one archived conversation, as listed.
type ContactSummary struct {
	ContactID   string    `json:"contactId"`
	DisplayName string    `json:"displayName,omitempty"`
	ArchivedAt  time.Time `json:"archivedAt"`
	ItemCount   int       `json:"itemCount"`
}

// Archive stores transcript snapshots per contact.
type Archive struct {
	db *DB
}

// NewArchive creates an archive over the given database.
func NewArchive(db *DB) *Archive {
	return &Archive{db: db}
}

// Save replaces the archived transcript for a contact with the given
// snapshot. Saving the same contact again overwrites the previous archive.
func (a *Archive) Save(contactID string, self domain.Participant, items []domain.TranscriptItem) error {
	tx, err := a.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("archive save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO contacts (contact_id, participant_id, display_name, archived_at, item_count)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(contact_id) DO UPDATE SET
		   participant_id = excluded.participant_id,
		   display_name = excluded.display_name,
		   archived_at = excluded.archived_at,
		   item_count = excluded.item_count`,
		contactID, self.ID, self.DisplayName,
		time.Now().UTC().Format(time.DateTime), len(items),
	); err != nil {
		return fmt.Errorf("archive contact: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM transcript_items WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("archive clear: %w", err)
	}

	for _, it := range items {
		var attachment sql.NullString
		if it.Attachment != nil {
			data, err := json.Marshal(it.Attachment)
			if err != nil {
				return fmt.Errorf("archive attachment %s: %w", it.ID, err)
			}
			attachment = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := tx.Exec(
			`INSERT INTO transcript_items
			   (contact_id, item_id, kind, participant_id, participant_role,
			    display_name, content_type, content, direction, status,
			    sent_time, receipt_type, attachment)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			contactID, it.ID, string(it.Kind), it.ParticipantID, string(it.ParticipantRole),
			it.DisplayName, it.ContentType, it.Content, string(it.Direction), string(it.Status),
			it.SentTime, string(it.ReceiptType), attachment,
		); err != nil {
			return fmt.Errorf("archive item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// List returns all archived contacts, most recently archived first.
func (a *Archive) List() ([]ContactSummary, error) {
	rows, err := a.db.sql.Query(
		`SELECT contact_id, display_name, archived_at, item_count
		 FROM contacts ORDER BY archived_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("archive list: %w", err)
	}
	defer rows.Close()

	var out []ContactSummary
	for rows.Next() {
		var s ContactSummary
		var archivedAt string
		if err := rows.Scan(&s.ContactID, &s.DisplayName, &archivedAt, &s.ItemCount); err != nil {
			return nil, err
		}
		s.ArchivedAt, _ = time.Parse(time.DateTime, archivedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Items returns the archived transcript for a contact in sent order.
func (a *Archive) Items(contactID string) ([]domain.TranscriptItem, error) {
	rows, err := a.db.sql.Query(
		`SELECT item_id, kind, participant_id, participant_role, display_name,
		        content_type, content, direction, status, sent_time, receipt_type, attachment
		 FROM transcript_items WHERE contact_id = ? ORDER BY sent_time, rowid`,
		contactID,
	)
	if err != nil {
		return nil, fmt.Errorf("archive items: %w", err)
	}
	defer rows.Close()

	var out []domain.TranscriptItem
	for rows.Next() {
		var it domain.TranscriptItem
		var kind, role, direction, status, receiptType string
		var attachment sql.NullString

		if err := rows.Scan(
			&it.ID, &kind, &it.ParticipantID, &role, &it.DisplayName,
			&it.ContentType, &it.Content, &direction, &status, &it.SentTime,
			&receiptType, &attachment,
		); err != nil {
			return nil, err
		}

		it.Kind = domain.ItemKind(kind)
		it.ParticipantRole = domain.ParticipantRole(role)
		it.Direction = domain.Direction(direction)
		it.Status = domain.ItemStatus(status)
		it.ReceiptType = domain.ReceiptType(receiptType)
		if attachment.Valid && attachment.String != "" {
			var att domain.Attachment
			if err := json.Unmarshal([]byte(attachment.String), &att); err == nil {
				it.Attachment = &att
			}
		}

		out = append(out, it)
	}
	return out, rows.Err()
}

// Delete removes an archived contact and its items.
func (a *Archive) Delete(contactID string) error {
	_, err := a.db.sql.Exec(`DELETE FROM contacts WHERE contact_id = ?`, contactID)
	return err
}
