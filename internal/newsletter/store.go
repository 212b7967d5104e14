package newsletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidEmail marks an address that fails the pre-write check.
var ErrInvalidEmail = errors.New("invalid email")

// Store provides database operations for newsletter entities.
type Store struct {
	db *sql.DB
}

// NewStore creates a new newsletter store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for services that share the connection.
func (s *Store) DB() *sql.DB { return s.db }

// NormalizeEmail lowercases and trims an address. All contact lookups and
// writes go through this so email uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const contactColumns = `id, email, COALESCE(name,''), status, COALESCE(plan,''), COALESCE(origin,''),
	metadata, subscribed_at, unsubscribed_at, created_at, updated_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*Contact, error) {
	c := &Contact{}
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Status, &c.Plan, &c.Origin,
		&c.Metadata, &c.SubscribedAt, &c.UnsubscribedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EnsureContactByEmail creates the contact if absent and merges the supplied
// attributes without clobbering unrelated fields. Repeated calls with the
// same email converge to one row. Empty attrs never overwrite stored values.
func (s *Store) EnsureContactByEmail(ctx context.Context, email string, attrs ContactAttrs) (*Contact, error) {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w %q", ErrInvalidEmail, email)
	}

	query := `INSERT INTO newsletter_contacts (id, email, name, status, plan, origin, metadata, subscribed_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'subscribed', $4, $5, '{}', NOW(), NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), newsletter_contacts.name),
			plan = COALESCE(NULLIF(EXCLUDED.plan, ''), newsletter_contacts.plan),
			origin = COALESCE(NULLIF(EXCLUDED.origin, ''), newsletter_contacts.origin),
			updated_at = NOW()
		RETURNING ` + contactColumns

	row := s.db.QueryRowContext(ctx, query, uuid.New(), email, attrs.Name, attrs.Plan, attrs.Origin)
	c, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("ensure contact: %w", err)
	}
	return c, nil
}

// GetContact retrieves a contact by ID.
func (s *Store) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM newsletter_contacts WHERE id = $1`, id)
	return scanContact(row)
}

// GetContactByEmail retrieves a contact by normalized email.
func (s *Store) GetContactByEmail(ctx context.Context, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM newsletter_contacts WHERE email = $1`, NormalizeEmail(email))
	return scanContact(row)
}

// AssignContactToGroups inserts membership rows. Re-assignment is tolerated.
func (s *Store) AssignContactToGroups(ctx context.Context, contactID uuid.UUID, groupIDs []uuid.UUID) error {
	for _, gid := range groupIDs {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO newsletter_group_members (contact_id, group_id, created_at)
			VALUES ($1, $2, NOW()) ON CONFLICT (contact_id, group_id) DO NOTHING`,
			contactID, gid)
		if err != nil {
			return fmt.Errorf("assign group %s: %w", gid, err)
		}
	}
	return nil
}

// RemoveContactFromGroups deletes membership rows. Removing a non-existent
// membership is a no-op, not an error.
func (s *Store) RemoveContactFromGroups(ctx context.Context, contactID uuid.UUID, groupIDs []uuid.UUID) error {
	for _, gid := range groupIDs {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM newsletter_group_members WHERE contact_id = $1 AND group_id = $2`,
			contactID, gid)
		if err != nil {
			return fmt.Errorf("remove group %s: %w", gid, err)
		}
	}
	return nil
}

// UnsubscribeContact sets status and unsubscribed_at regardless of current
// state. Idempotent; unsubscribed_at keeps its first value.
func (s *Store) UnsubscribeContact(ctx context.Context, contactID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_contacts SET status = 'unsubscribed',
			unsubscribed_at = COALESCE(unsubscribed_at, NOW()), updated_at = NOW()
		WHERE id = $1`, contactID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// BulkAction applies one action uniformly to a set of contact ids and returns
// per-id results. An unknown id is reported as ok=false for that id; the
// batch itself never aborts.
func (s *Store) BulkAction(ctx context.Context, ids []uuid.UUID, action string, groupID *uuid.UUID) ([]BulkResult, error) {
	switch action {
	case BulkAddGroup, BulkRemoveGroup:
		if groupID == nil {
			return nil, fmt.Errorf("action %q requires a group id", action)
		}
	case BulkUnsubscribe:
	default:
		return nil, fmt.Errorf("unknown bulk action %q", action)
	}

	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		res := BulkResult{ContactID: id, OK: true}
		var err error
		switch action {
		case BulkAddGroup:
			if err = s.contactExists(ctx, id); err == nil {
				err = s.AssignContactToGroups(ctx, id, []uuid.UUID{*groupID})
			}
		case BulkRemoveGroup:
			if err = s.contactExists(ctx, id); err == nil {
				err = s.RemoveContactFromGroups(ctx, id, []uuid.UUID{*groupID})
			}
		case BulkUnsubscribe:
			var found bool
			found, err = s.UnsubscribeContact(ctx, id)
			if err == nil && !found {
				// Missing id is a no-op for the batch, flagged per-id.
				res.OK = false
				res.Error = "contact not found"
			}
		}
		if err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Store) contactExists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM newsletter_contacts WHERE id = $1`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("contact not found")
	}
	return err
}

// CreateGroup creates a named group.
func (s *Store) CreateGroup(ctx context.Context, name string) (*Group, error) {
	g := &Group{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_groups (id, name, created_at) VALUES ($1, $2, $3)`,
		g.ID, g.Name, g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GroupMembers lists contacts belonging to a group, newest membership first.
func (s *Store) GroupMembers(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.email, COALESCE(c.name,''), c.status, COALESCE(c.plan,''), COALESCE(c.origin,''),
			c.metadata, c.subscribed_at, c.unsubscribed_at, c.created_at, c.updated_at
		FROM newsletter_group_members m
		JOIN newsletter_contacts c ON c.id = m.contact_id
		WHERE m.group_id = $1
		ORDER BY m.created_at DESC LIMIT $2 OFFSET $3`,
		groupID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Status, &c.Plan, &c.Origin,
			&c.Metadata, &c.SubscribedAt, &c.UnsubscribedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactField merges a single key into the contact's metadata jsonb.
func (s *Store) SetContactField(ctx context.Context, contactID uuid.UUID, field, value string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE newsletter_contacts
		SET metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object($1::text, $2::text),
			updated_at = NOW()
		WHERE id = $3`, field, value, contactID)
	return err
}

// SyncUser is one imported user in a contact sync request.
type SyncUser struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Plan   string `json:"plan"`
	Origin string `json:"origin"`
}

// SyncContacts imports users as contacts through EnsureContactByEmail and
// optionally assigns them to a group. Returns the number imported.
func (s *Store) SyncContacts(ctx context.Context, users []SyncUser, groupID *uuid.UUID) (int, []BulkResult, error) {
	imported := 0
	var failures []BulkResult
	for _, u := range users {
		origin := u.Origin
		if origin == "" {
			origin = "sync"
		}
		c, err := s.EnsureContactByEmail(ctx, u.Email, ContactAttrs{Name: u.Name, Plan: u.Plan, Origin: origin})
		if err != nil {
			failures = append(failures, BulkResult{OK: false, Error: fmt.Sprintf("%s: %v", NormalizeEmail(u.Email), err)})
			continue
		}
		if groupID != nil {
			if err := s.AssignContactToGroups(ctx, c.ID, []uuid.UUID{*groupID}); err != nil {
				failures = append(failures, BulkResult{ContactID: c.ID, OK: false, Error: err.Error()})
				continue
			}
		}
		imported++
	}
	return imported, failures, nil
}
