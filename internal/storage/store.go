// Package storage is the pgx-backed data store the workers read and
// mutate. Rows here belong to the wider application; the worker core only
// touches them through the operations below.
package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("storage: not found")

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

type Team struct {
	ID   string
	Plan string
}

func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	err := s.db.QueryRow(ctx,
		`select id, plan from teams where id = $1`, id,
	).Scan(&t.ID, &t.Plan)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get team %s", id)
	}
	return &t, nil
}

// ConversionSource is everything file-conversion needs about the version
// it converts.
type ConversionSource struct {
	DocumentName  string
	OriginalFile  string
	ContentType   string
	StorageType   string
	VersionNumber int
}

func (s *Store) GetConversionSource(ctx context.Context, documentID, teamID, versionID string) (*ConversionSource, error) {
	var src ConversionSource
	err := s.db.QueryRow(ctx, `
		select d.name, coalesce(v.original_file, ''), coalesce(v.content_type, ''), v.storage_type, v.version_number
		  from documents d
		  join document_versions v on v.document_id = d.id
		 where d.id = $1 and d.team_id = $2 and v.id = $3`,
		documentID, teamID, versionID,
	).Scan(&src.DocumentName, &src.OriginalFile, &src.ContentType, &src.StorageType, &src.VersionNumber)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get conversion source %s", versionID)
	}
	return &src, nil
}

// SetVersionFile points the version at its converted file and returns the
// version number for downstream chaining.
func (s *Store) SetVersionFile(ctx context.Context, versionID, file, fileType, storageType string) (int, error) {
	var versionNumber int
	err := s.db.QueryRow(ctx, `
		update document_versions
		   set file = $2, type = $3, storage_type = $4, updated_at = now()
		 where id = $1
		returning version_number`,
		versionID, file, fileType, storageType,
	).Scan(&versionNumber)
	if err == pgx.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrapf(err, "set version file %s", versionID)
	}
	return versionNumber, nil
}

type VersionFile struct {
	File        string
	StorageType string
	NumPages    int
}

func (s *Store) GetVersionFile(ctx context.Context, versionID string) (*VersionFile, error) {
	var v VersionFile
	err := s.db.QueryRow(ctx, `
		select file, storage_type, coalesce(num_pages, 0)
		  from document_versions where id = $1`, versionID,
	).Scan(&v.File, &v.StorageType, &v.NumPages)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get version file %s", versionID)
	}
	return &v, nil
}

// EnableVersionPages marks the version as rasterized and primary.
func (s *Store) EnableVersionPages(ctx context.Context, versionID string, numPages int) error {
	tag, err := s.db.Exec(ctx, `
		update document_versions
		   set num_pages = $2, has_pages = true, is_primary = true, updated_at = now()
		 where id = $1`, versionID, numPages)
	if err != nil {
		return errors.Wrapf(err, "enable pages %s", versionID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DemoteSiblingVersions clears the primary flag on every other version of
// the document.
func (s *Store) DemoteSiblingVersions(ctx context.Context, documentID string, keepVersionNumber int) error {
	_, err := s.db.Exec(ctx, `
		update document_versions
		   set is_primary = false, updated_at = now()
		 where document_id = $1 and version_number <> $2`,
		documentID, keepVersionNumber)
	return errors.Wrapf(err, "demote siblings of %s", documentID)
}

// SetVersionVideo swaps the version's file for the optimized rendition
// without touching type or storage metadata.
func (s *Store) SetVersionVideo(ctx context.Context, versionID, file string) error {
	_, err := s.db.Exec(ctx, `
		update document_versions set file = $2, updated_at = now() where id = $1`,
		versionID, file)
	return errors.Wrapf(err, "set version video %s", versionID)
}

func (s *Store) SetVersionDuration(ctx context.Context, versionID string, seconds int) error {
	_, err := s.db.Exec(ctx, `
		update document_versions set length = $2, updated_at = now() where id = $1`,
		versionID, seconds)
	return errors.Wrapf(err, "set duration %s", versionID)
}

// EligibleViewer is a verified dataroom viewer with their most recent
// access link. Link eligibility (archived/expired) and opt-out filtering
// happen in the notification worker.
type EligibleViewer struct {
	ID                string
	NotificationPrefs []byte
	LinkID            string
	LinkSlug          *string
	DomainSlug        *string
	DomainID          *string
	LinkArchived      bool
	LinkExpiresAt     *time.Time
}

func (s *Store) VerifiedDataroomViewers(ctx context.Context, teamID, dataroomID string) ([]EligibleViewer, error) {
	rows, err := s.db.Query(ctx, `
		select distinct on (vr.id)
		       vr.id, coalesce(vr.notification_preferences, '{}'::jsonb),
		       l.id, l.slug, l.domain_slug, l.domain_id, l.is_archived, l.expires_at
		  from viewers vr
		  join views vw on vw.viewer_id = vr.id
		  join links l on l.id = vw.link_id
		 where vr.team_id = $1
		   and vw.dataroom_id = $2
		   and vw.view_type = 'DATAROOM_VIEW'
		   and vw.verified
		 order by vr.id, vw.viewed_at desc`,
		teamID, dataroomID)
	if err != nil {
		return nil, errors.Wrapf(err, "list viewers for dataroom %s", dataroomID)
	}
	defer rows.Close()

	var out []EligibleViewer
	for rows.Next() {
		var v EligibleViewer
		if err := rows.Scan(&v.ID, &v.NotificationPrefs, &v.LinkID, &v.LinkSlug,
			&v.DomainSlug, &v.DomainID, &v.LinkArchived, &v.LinkExpiresAt); err != nil {
			return nil, errors.Wrap(err, "scan viewer")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTeamPlan(ctx context.Context, teamID, plan string) error {
	_, err := s.db.Exec(ctx, `update teams set plan = $2, updated_at = now() where id = $1`, teamID, plan)
	return errors.Wrapf(err, "update plan %s", teamID)
}

func (s *Store) DeleteBranding(ctx context.Context, teamID string) error {
	_, err := s.db.Exec(ctx, `delete from brands where team_id = $1`, teamID)
	return errors.Wrapf(err, "delete branding %s", teamID)
}

// BlockNonAdminMembers locks out every non-admin member after a trial
// expires; returns how many were blocked.
func (s *Store) BlockNonAdminMembers(ctx context.Context, teamID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		update user_teams
		   set status = 'BLOCKED_TRIAL_EXPIRED', blocked_at = now()
		 where team_id = $1 and role <> 'ADMIN'`, teamID)
	if err != nil {
		return 0, errors.Wrapf(err, "block members %s", teamID)
	}
	return tag.RowsAffected(), nil
}
