package newsletter

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func contactRows(id uuid.UUID, email, name string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "name", "status", "plan", "origin",
		"metadata", "subscribed_at", "unsubscribed_at", "created_at", "updated_at",
	}).AddRow(id, email, name, "subscribed", "", "", []byte("{}"), now, nil, now, now)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestEnsureContactByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO newsletter_contacts`).
		WithArgs(sqlmock.AnyArg(), "user@example.com", "Jamie", "pro", "signup").
		WillReturnRows(contactRows(id, "user@example.com", "Jamie"))

	c, err := store.EnsureContactByEmail(context.Background(), " User@Example.com ",
		ContactAttrs{Name: "Jamie", Plan: "pro", Origin: "signup"})
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, "user@example.com", c.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureContactByEmailRejectsInvalid(t *testing.T) {
	store, _ := newMockStore(t)

	for _, email := range []string{"", "   ", "not-an-email"} {
		_, err := store.EnsureContactByEmail(context.Background(), email, ContactAttrs{})
		assert.ErrorIs(t, err, ErrInvalidEmail, "email %q", email)
	}
}

func TestGetContactNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM newsletter_contacts WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	c, err := store.GetContact(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUnsubscribeContactIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE newsletter_contacts SET status = 'unsubscribed'`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := store.UnsubscribeContact(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, found)

	missing := uuid.New()
	mock.ExpectExec(`UPDATE newsletter_contacts SET status = 'unsubscribed'`).
		WithArgs(missing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err = store.UnsubscribeContact(context.Background(), missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBulkActionRequiresGroupID(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.BulkAction(context.Background(), []uuid.UUID{uuid.New()}, BulkAddGroup, nil)
	assert.Error(t, err)

	_, err = store.BulkAction(context.Background(), []uuid.UUID{uuid.New()}, "nuke", nil)
	assert.Error(t, err)
}

func TestBulkUnsubscribeReportsPerID(t *testing.T) {
	store, mock := newMockStore(t)
	known := uuid.New()
	missing := uuid.New()

	mock.ExpectExec(`UPDATE newsletter_contacts SET status = 'unsubscribed'`).
		WithArgs(known).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE newsletter_contacts SET status = 'unsubscribed'`).
		WithArgs(missing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	results, err := store.BulkAction(context.Background(), []uuid.UUID{known, missing}, BulkUnsubscribe, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Equal(t, "contact not found", results[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkAddGroup(t *testing.T) {
	store, mock := newMockStore(t)
	contactID := uuid.New()
	groupID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM newsletter_contacts WHERE id = $1`)).
		WithArgs(contactID).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO newsletter_group_members`).
		WithArgs(contactID, groupID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	results, err := store.BulkAction(context.Background(), []uuid.UUID{contactID}, BulkAddGroup, &groupID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncContactsCountsFailures(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(`INSERT INTO newsletter_contacts`).
		WithArgs(sqlmock.AnyArg(), "a@example.com", "A", "", "sync").
		WillReturnRows(contactRows(id, "a@example.com", "A"))

	users := []SyncUser{
		{Email: "a@example.com", Name: "A"},
		{Email: "bogus"},
	}
	imported, failures, err := store.SyncContacts(context.Background(), users, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	require.Len(t, failures, 1)
	assert.False(t, failures[0].OK)
}

func TestListRecipientsClampsLimit(t *testing.T) {
	store, mock := newMockStore(t)
	campaignID := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM newsletter_recipients`).
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT r\.id, r\.campaign_id`).
		WithArgs(campaignID, RecipientMaxLimit, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "contact_id", "email", "status",
			"sent_at", "delivered_at", "opened_at", "clicked_at", "bounced_at", "created_at",
			"name", "contact_status",
		}))

	_, total, err := store.ListRecipients(context.Background(), campaignID, 9999, -5)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeliveredFirstWins(t *testing.T) {
	store, mock := newMockStore(t)
	campaignID := uuid.New()
	recipientID := uuid.New()

	// First observation stamps the row and logs an event.
	mock.ExpectExec(`UPDATE newsletter_recipients SET delivered_at`).
		WithArgs(recipientID, campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO newsletter_events`).
		WithArgs(sqlmock.AnyArg(), campaignID, recipientID, EventDelivered, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkDelivered(context.Background(), campaignID, recipientID))

	// Duplicate webhook: no event append.
	mock.ExpectExec(`UPDATE newsletter_recipients SET delivered_at`).
		WithArgs(recipientID, campaignID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.MarkDelivered(context.Background(), campaignID, recipientID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
