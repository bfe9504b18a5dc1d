package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/rmf-intake/internal/domain"
)

// AssetRepository persists the metadata of the single asset a ticket owns.
type AssetRepository interface {
	Upsert(ctx context.Context, asset *domain.UploadedAsset) error
	GetByTicket(ctx context.Context, ticketID string) (*domain.UploadedAsset, error)
	GetByStoredName(ctx context.Context, storedName string) (*domain.UploadedAsset, error)
	DeleteByTicket(ctx context.Context, ticketID string) error
}

type assetRepository struct {
	db DBTX
}

// NewAssetRepository constructs repository.
func NewAssetRepository(db DBTX) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Upsert(ctx context.Context, asset *domain.UploadedAsset) error {
	const query = `
        INSERT INTO ticket_assets (ticket_id, stored_name, content_type, size_bytes, digest, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (ticket_id) DO UPDATE SET stored_name=EXCLUDED.stored_name, content_type=EXCLUDED.content_type,
            size_bytes=EXCLUDED.size_bytes, digest=EXCLUDED.digest, created_at=EXCLUDED.created_at`
	_, err := r.db.Exec(ctx, query,
		asset.TicketID,
		asset.StoredName,
		asset.ContentType,
		asset.SizeBytes,
		asset.Digest,
		asset.CreatedAt,
	)
	return err
}

func (r *assetRepository) GetByTicket(ctx context.Context, ticketID string) (*domain.UploadedAsset, error) {
	const query = `
        SELECT ticket_id, stored_name, content_type, size_bytes, digest, created_at
        FROM ticket_assets WHERE ticket_id=$1`
	return scanAsset(r.db.QueryRow(ctx, query, ticketID))
}

func (r *assetRepository) GetByStoredName(ctx context.Context, storedName string) (*domain.UploadedAsset, error) {
	const query = `
        SELECT ticket_id, stored_name, content_type, size_bytes, digest, created_at
        FROM ticket_assets WHERE stored_name=$1`
	return scanAsset(r.db.QueryRow(ctx, query, storedName))
}

func (r *assetRepository) DeleteByTicket(ctx context.Context, ticketID string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM ticket_assets WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanAsset(row pgx.Row) (*domain.UploadedAsset, error) {
	var asset domain.UploadedAsset
	if err := row.Scan(
		&asset.TicketID,
		&asset.StoredName,
		&asset.ContentType,
		&asset.SizeBytes,
		&asset.Digest,
		&asset.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &asset, nil
}
