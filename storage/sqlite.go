package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"realty_ingest/models"
)

// SQLiteStore holds the operational tables (runs, logs, commands) and can
// also serve as a local catalog.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer at a time; callers inside WithTx only touch the tx.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS districts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS building_complexes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		district_id TEXT REFERENCES districts(id),
		created_at DATETIME NOT NULL,
		UNIQUE(name, address)
	);

	CREATE TABLE IF NOT EXISTS catalog_offers (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		property_type TEXT NOT NULL,
		category TEXT NOT NULL,
		rooms INTEGER NOT NULL DEFAULT 0,
		is_studio BOOLEAN NOT NULL DEFAULT FALSE,
		floor INTEGER NOT NULL DEFAULT 0,
		floors_total INTEGER NOT NULL DEFAULT 0,
		area_total REAL NOT NULL DEFAULT 0,
		area_living REAL,
		area_kitchen REAL,
		ceiling_height REAL,
		price INTEGER NOT NULL,
		building_name TEXT NOT NULL DEFAULT '',
		building_type TEXT NOT NULL DEFAULT '',
		building_state TEXT NOT NULL DEFAULT '',
		built_year INTEGER,
		ready_quarter INTEGER,
		address TEXT NOT NULL,
		latitude REAL,
		longitude REAL,
		district_id TEXT REFERENCES districts(id),
		complex_id TEXT REFERENCES building_complexes(id),
		room_type TEXT NOT NULL,
		is_euro_layout BOOLEAN NOT NULL DEFAULT FALSE,
		layout_confidence REAL NOT NULL DEFAULT 0,
		layout_reason TEXT NOT NULL DEFAULT '',
		contact_phone TEXT NOT NULL DEFAULT '',
		contact_email TEXT NOT NULL DEFAULT '',
		contact_organization TEXT NOT NULL DEFAULT '',
		stations BLOB NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offer_images (
		id INTEGER PRIMARY KEY,
		offer_id TEXT NOT NULL REFERENCES catalog_offers(id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		tag TEXT,
		display_order INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS import_runs (
		id INTEGER PRIMARY KEY,
		feed_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		parsed INTEGER DEFAULT 0,
		imported INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		parse_errors INTEGER DEFAULT 0,
		error_message TEXT DEFAULT '',
		metadata BLOB
	);

	CREATE TABLE IF NOT EXISTS import_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		feed_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_offer_images_offer ON offer_images(offer_id, display_order);
	CREATE INDEX IF NOT EXISTS idx_catalog_offers_active ON catalog_offers(is_active, updated_at);
	CREATE INDEX IF NOT EXISTS idx_import_runs_feed ON import_runs(feed_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_import_logs_run ON import_logs(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// sqliteError maps unique violations onto ErrConflict.
func sqliteError(err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s", ErrConflict, sqErr.Error())
	}
	return err
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx CatalogTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteCatalogTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", sqliteError(err))
	}
	return nil
}

func (s *SQLiteStore) DeactivateStaleOffers(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE catalog_offers SET is_active = FALSE WHERE is_active = TRUE AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Catalog (inside a transaction)
// =============================================================================

type sqliteCatalogTx struct {
	tx *sqlx.Tx
}

func (t *sqliteCatalogTx) FindDistrictByName(ctx context.Context, name string) (*models.District, error) {
	var d models.District
	err := t.tx.GetContext(ctx, &d, `SELECT id, name, created_at FROM districts WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *sqliteCatalogTx) CreateDistrict(ctx context.Context, d *models.District) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO districts (id, name, created_at) VALUES (:id, :name, :created_at)`, d)
	return sqliteError(err)
}

func (t *sqliteCatalogTx) FindBuildingComplex(ctx context.Context, name, address string) (*models.BuildingComplex, error) {
	var c models.BuildingComplex
	err := t.tx.GetContext(ctx, &c, `
		SELECT id, name, address, district_id, created_at
		FROM building_complexes WHERE name = ? AND address = ?`, name, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *sqliteCatalogTx) CreateBuildingComplex(ctx context.Context, c *models.BuildingComplex) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO building_complexes (id, name, address, district_id, created_at)
		VALUES (:id, :name, :address, :district_id, :created_at)`, c)
	return sqliteError(err)
}

const sqliteOfferColumns = `
	id, external_id, type, property_type, category,
	rooms, is_studio, floor, floors_total, area_total, area_living, area_kitchen, ceiling_height,
	price, building_name, building_type, building_state, built_year, ready_quarter,
	address, latitude, longitude, district_id, complex_id,
	room_type, is_euro_layout, layout_confidence, layout_reason,
	contact_phone, contact_email, contact_organization, stations, description,
	is_active, created_at, updated_at`

func (t *sqliteCatalogTx) GetOfferByExternalID(ctx context.Context, externalID string) (*models.CatalogOffer, error) {
	var o models.CatalogOffer
	err := t.tx.GetContext(ctx, &o,
		`SELECT `+sqliteOfferColumns+` FROM catalog_offers WHERE external_id = ?`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *sqliteCatalogTx) InsertOffer(ctx context.Context, o *models.CatalogOffer) error {
	query := `
		INSERT INTO catalog_offers (` + sqliteOfferColumns + `) VALUES (
			:id, :external_id, :type, :property_type, :category,
			:rooms, :is_studio, :floor, :floors_total, :area_total, :area_living, :area_kitchen, :ceiling_height,
			:price, :building_name, :building_type, :building_state, :built_year, :ready_quarter,
			:address, :latitude, :longitude, :district_id, :complex_id,
			:room_type, :is_euro_layout, :layout_confidence, :layout_reason,
			:contact_phone, :contact_email, :contact_organization, :stations, :description,
			:is_active, :created_at, :updated_at
		)`
	_, err := t.tx.NamedExecContext(ctx, query, o)
	return sqliteError(err)
}

func (t *sqliteCatalogTx) UpdateOffer(ctx context.Context, o *models.CatalogOffer) error {
	query := `
		UPDATE catalog_offers SET
			type = :type, property_type = :property_type, category = :category,
			rooms = :rooms, is_studio = :is_studio, floor = :floor, floors_total = :floors_total,
			area_total = :area_total, area_living = :area_living, area_kitchen = :area_kitchen,
			ceiling_height = :ceiling_height, price = :price,
			building_name = :building_name, building_type = :building_type, building_state = :building_state,
			built_year = :built_year, ready_quarter = :ready_quarter,
			address = :address, latitude = :latitude, longitude = :longitude,
			district_id = :district_id, complex_id = :complex_id,
			room_type = :room_type, is_euro_layout = :is_euro_layout,
			layout_confidence = :layout_confidence, layout_reason = :layout_reason,
			contact_phone = :contact_phone, contact_email = :contact_email,
			contact_organization = :contact_organization,
			stations = :stations, description = :description,
			is_active = :is_active, updated_at = :updated_at
		WHERE external_id = :external_id`

	result, err := t.tx.NamedExecContext(ctx, query, o)
	if err != nil {
		return sqliteError(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("offer %s vanished during update", o.ExternalID)
	}
	return nil
}

func (t *sqliteCatalogTx) DeleteOfferImages(ctx context.Context, offerID uuid.UUID) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM offer_images WHERE offer_id = ?`, offerID)
	return err
}

func (t *sqliteCatalogTx) InsertOfferImage(ctx context.Context, img *models.OfferImage) error {
	result, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO offer_images (offer_id, url, tag, display_order)
		VALUES (:offer_id, :url, :tag, :display_order)`, img)
	if err != nil {
		return err
	}
	img.ID, err = result.LastInsertId()
	return err
}

// =============================================================================
// Catalog reads
// =============================================================================

func (s *SQLiteStore) GetOfferByExternalID(ctx context.Context, externalID string) (*models.CatalogOffer, error) {
	var o models.CatalogOffer
	err := s.db.GetContext(ctx, &o,
		`SELECT `+sqliteOfferColumns+` FROM catalog_offers WHERE external_id = ?`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) GetOfferImages(ctx context.Context, offerID uuid.UUID) ([]models.OfferImage, error) {
	var images []models.OfferImage
	err := s.db.SelectContext(ctx, &images, `
		SELECT id, offer_id, url, tag, display_order
		FROM offer_images WHERE offer_id = ? ORDER BY display_order`, offerID)
	return images, err
}

func (s *SQLiteStore) CountOffers(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM catalog_offers`)
	return n, err
}

// =============================================================================
// Import Runs & Logs
// =============================================================================

func (s *SQLiteStore) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (feed_id, started_at, status, parsed, imported, updated, failed, parse_errors)
		VALUES (?, ?, ?, 0, 0, 0, 0, 0)`,
		run.FeedID, run.StartedAt, run.Status)
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateImportRun(ctx context.Context, run *models.ImportRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_runs SET finished_at = ?, status = ?, parsed = ?, imported = ?,
			updated = ?, failed = ?, parse_errors = ?, error_message = ?, metadata = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Parsed, run.Imported,
		run.Updated, run.Failed, run.ParseErrors, run.ErrorMessage, []byte(run.Metadata), run.ID)
	return err
}

// ListImportRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListImportRuns(limit int) ([]models.ImportRun, error) {
	var runs []models.ImportRun
	err := s.db.Select(&runs, `
		SELECT id, feed_id, started_at, finished_at, status, parsed, imported, updated,
			failed, parse_errors, COALESCE(error_message, '') AS error_message
		FROM import_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	return runs, err
}

// GetLastRunTime returns the start of the feed's last successful run.
func (s *SQLiteStore) GetLastRunTime(feedID string) (time.Time, error) {
	var lastRun time.Time
	err := s.db.QueryRow(`
		SELECT started_at FROM import_runs
		WHERE feed_id = ? AND status IN ('completed', 'partial')
		ORDER BY started_at DESC LIMIT 1`, feedID).Scan(&lastRun)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	return lastRun, err
}

// FailInterruptedRuns closes runs left in "running" by a crashed process.
func (s *SQLiteStore) FailInterruptedRuns() (int64, error) {
	result, err := s.db.Exec(`
		UPDATE import_runs SET status = ?, finished_at = ?, error_message = 'interrupted'
		WHERE status = ?`,
		models.RunStatusFailed, time.Now(), models.RunStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, feedID string) error {
	_, err := s.db.Exec(`
		INSERT INTO import_logs (run_id, timestamp, level, message, feed_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, feedID)
	return err
}

func (s *SQLiteStore) GetRunLogs(runID int64) ([]models.ImportLog, error) {
	var logs []models.ImportLog
	err := s.db.Select(&logs, `
		SELECT id, run_id, timestamp, level, message, feed_id
		FROM import_logs WHERE run_id = ? ORDER BY id`, runID)
	return logs, err
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw []byte
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, nullableJSON(raw), time.Now())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
