package postgres

import (
	"context"
	"errors"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AggregateRepository is an es.AggregateRepository backed by
// PostgreSQL via gorm, fronted by a read-through patrickmn/go-cache
// cache so repeated GetOne calls for a hot aggregate avoid a round
// trip. Writes invalidate the cached entry rather than updating it in
// place, keeping the cache strictly a read accelerator.
type AggregateRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	cache  *cache.Cache
}

// NewAggregateRepository constructs an AggregateRepository, migrating
// its table and sizing its cache TTL.
func NewAggregateRepository(db *gorm.DB, logger *zap.Logger, cacheTTL time.Duration) (*AggregateRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, es.NewError("postgres.NewAggregateRepository", es.KindStorage, "failed to migrate aggregates table", err)
	}
	return &AggregateRepository{
		db:     db,
		logger: logger,
		cache:  cache.New(cacheTTL, 2*cacheTTL),
	}, nil
}

func snapshotToRow(snapshot es.Snapshot) (snapshotRow, error) {
	data, err := encodePayload(snapshot.Data)
	if err != nil {
		return snapshotRow{}, err
	}
	return snapshotRow{
		ID:             snapshot.ID,
		CreatedBy:      snapshot.CreatedBy,
		CreatedOn:      snapshot.CreatedOn,
		LastEventID:    snapshot.LastEventID,
		CreatedAt:      snapshot.CreatedAt,
		UpdatedAt:      snapshot.UpdatedAt,
		Version:        snapshot.Version,
		LastRecordedAt: snapshot.LastRecordedAt,
		Data:           data,
	}, nil
}

func rowToSnapshot(row snapshotRow) (es.Snapshot, error) {
	var data map[string]interface{}
	if err := decodePayload(row.Data, &data); err != nil {
		return es.Snapshot{}, err
	}
	return es.Snapshot{
		ID:             row.ID,
		CreatedBy:      row.CreatedBy,
		CreatedOn:      row.CreatedOn,
		LastEventID:    row.LastEventID,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		Version:        row.Version,
		LastRecordedAt: row.LastRecordedAt,
		Data:           data,
	}, nil
}

func (r *AggregateRepository) GetOne(ctx context.Context, id string) (es.Snapshot, bool, error) {
	if cached, ok := r.cache.Get(id); ok {
		return cached.(es.Snapshot).Clone(), true, nil
	}

	var row snapshotRow
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return es.Snapshot{}, false, nil
	}
	if err != nil {
		return es.Snapshot{}, false, es.NewError("postgres.AggregateRepository.GetOne", es.KindStorage, "failed to load aggregate", err)
	}

	snapshot, err := rowToSnapshot(row)
	if err != nil {
		return es.Snapshot{}, false, es.NewError("postgres.AggregateRepository.GetOne", es.KindStorage, "failed to decode aggregate", err)
	}
	r.cache.SetDefault(id, snapshot)
	return snapshot.Clone(), true, nil
}

func (r *AggregateRepository) GetAll(ctx context.Context) (map[string]es.Snapshot, error) {
	var rows []snapshotRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, es.NewError("postgres.AggregateRepository.GetAll", es.KindStorage, "failed to list aggregates", err)
	}

	out := make(map[string]es.Snapshot, len(rows))
	for _, row := range rows {
		snapshot, err := rowToSnapshot(row)
		if err != nil {
			return nil, es.NewError("postgres.AggregateRepository.GetAll", es.KindStorage, "failed to decode aggregate", err)
		}
		out[row.ID] = snapshot
	}
	return out, nil
}

func (r *AggregateRepository) Create(ctx context.Context, snapshot es.Snapshot) error {
	row, err := snapshotToRow(snapshot)
	if err != nil {
		return es.NewError("postgres.AggregateRepository.Create", es.KindInvalidInput, "failed to encode aggregate", err)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return es.NewError("postgres.AggregateRepository.Create", es.KindStorage, "failed to insert aggregate", err)
	}
	r.cache.Delete(snapshot.ID)
	return nil
}

func (r *AggregateRepository) Update(ctx context.Context, snapshot es.Snapshot) error {
	row, err := snapshotToRow(snapshot)
	if err != nil {
		return es.NewError("postgres.AggregateRepository.Update", es.KindInvalidInput, "failed to encode aggregate", err)
	}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return es.NewError("postgres.AggregateRepository.Update", es.KindStorage, "failed to update aggregate", err)
	}
	r.cache.Delete(snapshot.ID)
	return nil
}

func (r *AggregateRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&snapshotRow{}, "id = ?", id).Error; err != nil {
		return es.NewError("postgres.AggregateRepository.Delete", es.KindStorage, "failed to delete aggregate", err)
	}
	r.cache.Delete(id)
	return nil
}

func (r *AggregateRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&snapshotRow{}).Error; err != nil {
		return es.NewError("postgres.AggregateRepository.DeleteAll", es.KindStorage, "failed to delete aggregates", err)
	}
	r.cache.Flush()
	return nil
}

var _ es.AggregateRepository = (*AggregateRepository)(nil)
