package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	pgerrcode "github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	kpool "github.com/opst/orchestration/pkg/conn/db/postgres/pool"
	"github.com/opst/orchestration/pkg/domain"
	xerr "github.com/opst/orchestration/pkg/domain/errors"
	kdb "github.com/opst/orchestration/pkg/domain/record/db"
)

type resourcePG struct { // implements kdb.Interface

	// connection pool for PostgreSQL
	pool kpool.Pool
}

var _ kdb.Interface = &resourcePG{}

func New(pool kpool.Pool) *resourcePG {
	return &resourcePG{pool: pool}
}

const selectVersion = `
	select
		v."id", v."version", v."kind", v."status", v."created", v."modified",
		v."creator", v."tombstone", v."attributes"
	`

// row of "resource_version", encoded for the wire.
type encoded struct {
	creator    []byte
	tombstone  pgtype.JSONB
	attributes []byte
}

func encode(r domain.Resource) (encoded, error) {
	creator, err := json.Marshal(r.Creator)
	if err != nil {
		return encoded{}, xerr.Invalid("creator", err)
	}
	attributes, err := json.Marshal(r.Attributes)
	if err != nil {
		return encoded{}, xerr.Invalid("attributes", err)
	}
	tombstone := pgtype.JSONB{Status: pgtype.Null}
	if r.Tombstone != nil {
		b, err := json.Marshal(r.Tombstone)
		if err != nil {
			return encoded{}, xerr.Invalid("tombstone", err)
		}
		tombstone = pgtype.JSONB{Bytes: b, Status: pgtype.Present}
	}
	return encoded{creator: creator, tombstone: tombstone, attributes: attributes}, nil
}

func scan(row pgx.Row) (domain.Resource, error) {
	var r domain.Resource
	var kind, status string
	var created, modified time.Time
	var creator, tombstone, attributes []byte
	if err := row.Scan(
		&r.ID, &r.Version, &kind, &status, &created, &modified,
		&creator, &tombstone, &attributes,
	); err != nil {
		return domain.Resource{}, err
	}
	r.Kind = domain.Kind(kind)
	r.Status = domain.Status(status)
	r.Created = created.UTC()
	r.Modified = modified.UTC()

	if err := json.Unmarshal(creator, &r.Creator); err != nil {
		return domain.Resource{}, fmt.Errorf("resource %s: creator: %w", r.ID, err)
	}
	if tombstone != nil {
		r.Tombstone = &domain.TombstoneMetadata{}
		if err := json.Unmarshal(tombstone, r.Tombstone); err != nil {
			return domain.Resource{}, fmt.Errorf("resource %s: tombstone: %w", r.ID, err)
		}
	}
	attrs, err := domain.DecodeAttributes(r.Kind, attributes)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("resource %s: %w", r.ID, err)
	}
	r.Attributes = attrs
	return r, nil
}

func insertVersion(ctx context.Context, conn kpool.Queryer, r domain.Resource) error {
	enc, err := encode(r)
	if err != nil {
		return err
	}
	_, err = conn.Exec(
		ctx,
		`
		insert into "resource_version"
			("id", "version", "kind", "status", "created", "modified", "creator", "tombstone", "attributes")
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
		r.ID, r.Version, string(r.Kind), string(r.Status), r.Created, r.Modified,
		string(enc.creator), enc.tombstone, string(enc.attributes),
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgerr *pgconn.PgError
	return errors.As(err, &pgerr) && pgerr.Code == pgerrcode.UniqueViolation
}

func (s *resourcePG) Create(ctx context.Context, r domain.Resource) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`insert into "resource" ("id", "kind", "version", "status") values ($1, $2, $3, $4)`,
		r.ID, string(r.Kind), r.Version, string(r.Status),
	); err != nil {
		if isUniqueViolation(err) {
			return xerr.Conflict(r.Kind, r.ID, 0)
		}
		return err
	}
	if err := insertVersion(ctx, tx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *resourcePG) GetActive(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	r, err := scan(s.pool.QueryRow(
		ctx,
		selectVersion+`
		from "resource" as r
		inner join "resource_version" as v
			on r."id" = v."id" and r."version" = v."version"
		where r."id" = $1 and r."kind" = $2 and r."status" = $3
		`,
		id, string(kind), string(domain.Active),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resource{}, xerr.NotFound(kind, id)
	}
	return r, err
}

func (s *resourcePG) Get(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	r, err := scan(s.pool.QueryRow(
		ctx,
		selectVersion+`
		from "resource" as r
		inner join "resource_version" as v
			on r."id" = v."id" and r."version" = v."version"
		where r."id" = $1 and r."kind" = $2
		`,
		id, string(kind),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resource{}, xerr.NotFound(kind, id)
	}
	return r, err
}

func (s *resourcePG) GetVersion(ctx context.Context, kind domain.Kind, id string, version int) (domain.Resource, error) {
	r, err := scan(s.pool.QueryRow(
		ctx,
		selectVersion+`
		from "resource_version" as v
		where v."id" = $1 and v."kind" = $2 and v."version" = $3
		`,
		id, string(kind), version,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Resource{}, xerr.NotFound(kind, fmt.Sprintf("%s@%d", id, version))
	}
	return r, err
}

func (s *resourcePG) Update(ctx context.Context, r domain.Resource) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	prior := r.Version - 1
	// the row lock taken here serializes concurrent writers.
	// the loser re-evaluates the condition after the winner commits, and sees a new version.
	tag, err := tx.Exec(
		ctx,
		`
		update "resource" set "version" = $3, "status" = $4
		where "id" = $1 and "kind" = $2 and "version" = $5 and "status" = $6
		`,
		r.ID, string(r.Kind), r.Version, string(r.Status), prior, string(domain.Active),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(
			ctx,
			`select exists (select 1 from "resource" where "id" = $1 and "kind" = $2)`,
			r.ID, string(r.Kind),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return xerr.NotFound(r.Kind, r.ID)
		}
		return xerr.Conflict(r.Kind, r.ID, prior)
	}

	if err := insertVersion(ctx, tx, r); err != nil {
		if isUniqueViolation(err) {
			return xerr.Conflict(r.Kind, r.ID, prior)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *resourcePG) RevertUpdate(ctx context.Context, r domain.Resource) error {
	if r.Version <= 1 {
		return xerr.Invalid(fmt.Sprintf("version %d of %s has no prior version", r.Version, r.ID), nil)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	restored := r.Version + 1
	tag, err := tx.Exec(
		ctx,
		`
		update "resource" as r
		set "version" = $4, "status" = v."status"
		from "resource_version" as v
		where r."id" = $1 and r."kind" = $2 and r."version" = $3
			and v."id" = r."id" and v."version" = $3 - 1
		`,
		r.ID, string(r.Kind), r.Version, restored,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerr.Conflict(r.Kind, r.ID, r.Version)
	}

	// now() has the precision of the column, so the restored version is modified strictly later.
	if _, err := tx.Exec(
		ctx,
		`
		insert into "resource_version"
			("id", "version", "kind", "status", "created", "modified", "creator", "tombstone", "attributes")
		select
			v."id", $3, v."kind", v."status", v."created",
			greatest(now(), $4::timestamptz + interval '1 microsecond'),
			v."creator", v."tombstone", v."attributes"
		from "resource_version" as v
		where v."id" = $1 and v."version" = $2 - 1
		`,
		r.ID, r.Version, restored, r.Modified,
	); err != nil {
		if isUniqueViolation(err) {
			return xerr.Conflict(r.Kind, r.ID, r.Version)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *resourcePG) List(ctx context.Context, kind domain.Kind, page int, size int) ([]domain.Resource, error) {
	if size <= 0 {
		return nil, xerr.Invalid(fmt.Sprintf("page size should be positive, but %d", size), nil)
	}
	if page < 1 {
		page = 1
	}

	rows, err := s.pool.Query(
		ctx,
		selectVersion+`
		from "resource" as r
		inner join "resource_version" as v
			on r."id" = v."id" and r."version" = v."version"
		where r."kind" = $1 and r."status" = $2
		order by v."created", v."id"
		limit $3 offset $4
		`,
		string(kind), string(domain.Active), size, (page-1)*size,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resources := []domain.Resource{}
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resources, nil
}

func (s *resourcePG) RollbackCreate(ctx context.Context, kind domain.Kind, id string) error {
	// versions go away by "on delete cascade".
	_, err := s.pool.Exec(
		ctx,
		`delete from "resource" where "id" = $1 and "kind" = $2`,
		id, string(kind),
	)
	return err
}
