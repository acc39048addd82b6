package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"realty_ingest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Imports are single-writer; a small pool covers the importer and the sweeper.
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgCatalogTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", pgError(err))
	}
	return nil
}

func (s *PostgresStore) DeactivateStaleOffers(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_offers SET is_active = FALSE WHERE is_active AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// pgError maps unique violations onto ErrConflict, keeping the constraint name.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// =============================================================================
// Catalog (inside a transaction)
// =============================================================================

type pgCatalogTx struct {
	tx pgx.Tx
}

func (t *pgCatalogTx) FindDistrictByName(ctx context.Context, name string) (*models.District, error) {
	var d models.District
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, created_at FROM districts WHERE name = $1`, name,
	).Scan(&d.ID, &d.Name, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgCatalogTx) CreateDistrict(ctx context.Context, d *models.District) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO districts (id, name, created_at) VALUES ($1, $2, $3)`,
		d.ID, d.Name, d.CreatedAt)
	return pgError(err)
}

func (t *pgCatalogTx) FindBuildingComplex(ctx context.Context, name, address string) (*models.BuildingComplex, error) {
	var c models.BuildingComplex
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, address, district_id, created_at
		FROM building_complexes WHERE name = $1 AND address = $2`, name, address,
	).Scan(&c.ID, &c.Name, &c.Address, &c.DistrictID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgCatalogTx) CreateBuildingComplex(ctx context.Context, c *models.BuildingComplex) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO building_complexes (id, name, address, district_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Name, c.Address, c.DistrictID, c.CreatedAt)
	return pgError(err)
}

const pgOfferColumns = `
	id, external_id, type, property_type, category,
	rooms, is_studio, floor, floors_total, area_total, area_living, area_kitchen, ceiling_height,
	price, building_name, building_type, building_state, built_year, ready_quarter,
	address, latitude, longitude, district_id, complex_id,
	room_type, is_euro_layout, layout_confidence, layout_reason,
	contact_phone, contact_email, contact_organization, stations, description,
	is_active, created_at, updated_at`

func (t *pgCatalogTx) GetOfferByExternalID(ctx context.Context, externalID string) (*models.CatalogOffer, error) {
	var o models.CatalogOffer
	err := t.tx.QueryRow(ctx,
		`SELECT `+pgOfferColumns+` FROM catalog_offers WHERE external_id = $1`, externalID,
	).Scan(
		&o.ID, &o.ExternalID, &o.Type, &o.PropertyType, &o.Category,
		&o.Rooms, &o.IsStudio, &o.Floor, &o.FloorsTotal, &o.AreaTotal, &o.AreaLiving, &o.AreaKitchen, &o.CeilingHeight,
		&o.Price, &o.BuildingName, &o.BuildingType, &o.BuildingState, &o.BuiltYear, &o.ReadyQuarter,
		&o.Address, &o.Latitude, &o.Longitude, &o.DistrictID, &o.ComplexID,
		&o.RoomType, &o.IsEuroLayout, &o.LayoutConfidence, &o.LayoutReason,
		&o.ContactPhone, &o.ContactEmail, &o.ContactOrganization, &o.Stations, &o.Description,
		&o.IsActive, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgCatalogTx) InsertOffer(ctx context.Context, o *models.CatalogOffer) error {
	query := `
		INSERT INTO catalog_offers (` + pgOfferColumns + `) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36
		)`

	_, err := t.tx.Exec(ctx, query,
		o.ID, o.ExternalID, o.Type, o.PropertyType, o.Category,
		o.Rooms, o.IsStudio, o.Floor, o.FloorsTotal, o.AreaTotal, o.AreaLiving, o.AreaKitchen, o.CeilingHeight,
		o.Price, o.BuildingName, o.BuildingType, o.BuildingState, o.BuiltYear, o.ReadyQuarter,
		o.Address, o.Latitude, o.Longitude, o.DistrictID, o.ComplexID,
		o.RoomType, o.IsEuroLayout, o.LayoutConfidence, o.LayoutReason,
		o.ContactPhone, o.ContactEmail, o.ContactOrganization, o.Stations, o.Description,
		o.IsActive, o.CreatedAt, o.UpdatedAt,
	)
	return pgError(err)
}

// UpdateOffer overwrites every mutable column. created_at is left alone.
func (t *pgCatalogTx) UpdateOffer(ctx context.Context, o *models.CatalogOffer) error {
	query := `
		UPDATE catalog_offers SET
			type = $2, property_type = $3, category = $4,
			rooms = $5, is_studio = $6, floor = $7, floors_total = $8,
			area_total = $9, area_living = $10, area_kitchen = $11, ceiling_height = $12,
			price = $13, building_name = $14, building_type = $15, building_state = $16,
			built_year = $17, ready_quarter = $18,
			address = $19, latitude = $20, longitude = $21, district_id = $22, complex_id = $23,
			room_type = $24, is_euro_layout = $25, layout_confidence = $26, layout_reason = $27,
			contact_phone = $28, contact_email = $29, contact_organization = $30,
			stations = $31, description = $32,
			is_active = $33, updated_at = $34
		WHERE external_id = $1`

	tag, err := t.tx.Exec(ctx, query,
		o.ExternalID, o.Type, o.PropertyType, o.Category,
		o.Rooms, o.IsStudio, o.Floor, o.FloorsTotal,
		o.AreaTotal, o.AreaLiving, o.AreaKitchen, o.CeilingHeight,
		o.Price, o.BuildingName, o.BuildingType, o.BuildingState,
		o.BuiltYear, o.ReadyQuarter,
		o.Address, o.Latitude, o.Longitude, o.DistrictID, o.ComplexID,
		o.RoomType, o.IsEuroLayout, o.LayoutConfidence, o.LayoutReason,
		o.ContactPhone, o.ContactEmail, o.ContactOrganization,
		o.Stations, o.Description,
		o.IsActive, o.UpdatedAt,
	)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offer %s vanished during update", o.ExternalID)
	}
	return nil
}

func (t *pgCatalogTx) DeleteOfferImages(ctx context.Context, offerID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM offer_images WHERE offer_id = $1`, offerID)
	return err
}

func (t *pgCatalogTx) InsertOfferImage(ctx context.Context, img *models.OfferImage) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO offer_images (offer_id, url, tag, display_order)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		img.OfferID, img.URL, img.Tag, img.DisplayOrder,
	).Scan(&img.ID)
}

// =============================================================================
// Import Runs
// =============================================================================

func (s *PostgresStore) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	query := `
		INSERT INTO import_runs (feed_id, started_at, status, parsed, imported, updated, failed, parse_errors, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.FeedID, run.StartedAt, run.Status, run.Parsed, run.Imported, run.Updated, run.Failed,
		run.ParseErrors, run.ErrorMessage, run.Metadata,
	).Scan(&run.ID)
}

func (s *PostgresStore) UpdateImportRun(ctx context.Context, run *models.ImportRun) error {
	query := `
		UPDATE import_runs SET
			finished_at = $2, status = $3, parsed = $4, imported = $5, updated = $6,
			failed = $7, parse_errors = $8, error_message = $9, metadata = $10
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Status, run.Parsed, run.Imported, run.Updated,
		run.Failed, run.ParseErrors, run.ErrorMessage, run.Metadata,
	)
	return err
}
