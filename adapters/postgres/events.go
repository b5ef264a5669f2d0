package postgres

import (
	"context"
	"errors"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventsRepository is an es.EventsRepository backed by PostgreSQL via
// gorm. Payloads are zstd-compressed before storage.
type EventsRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewEventsRepository constructs an EventsRepository and migrates its
// table if needed.
func NewEventsRepository(db *gorm.DB, logger *zap.Logger) (*EventsRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, es.NewError("postgres.NewEventsRepository", es.KindStorage, "failed to migrate events table", err)
	}
	return &EventsRepository{db: db, logger: logger}, nil
}

func toRow(event es.Event) (eventRow, error) {
	payload, err := encodePayload(event.Payload)
	if err != nil {
		return eventRow{}, err
	}
	return eventRow{
		ID:            event.ID,
		Operation:     string(event.Operation),
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Type:          event.Type,
		Payload:       payload,
		DispatchedAt:  event.DispatchedAt,
		CreatedBy:     event.CreatedBy,
		CreatedOn:     event.CreatedOn,
		PrevID:        event.PrevID,
		RecordedAt:    event.RecordedAt,
	}, nil
}

func fromRow(row eventRow) (es.Event, error) {
	var payload map[string]interface{}
	if err := decodePayload(row.Payload, &payload); err != nil {
		return es.Event{}, err
	}
	return es.Event{
		ID:            row.ID,
		Operation:     es.Operation(row.Operation),
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Type:          row.Type,
		Payload:       payload,
		DispatchedAt:  row.DispatchedAt,
		CreatedBy:     row.CreatedBy,
		CreatedOn:     row.CreatedOn,
		PrevID:        row.PrevID,
		RecordedAt:    row.RecordedAt,
	}, nil
}

func (r *EventsRepository) Create(ctx context.Context, event es.Event) error {
	row, err := toRow(event)
	if err != nil {
		return es.NewError("postgres.EventsRepository.Create", es.KindInvalidInput, "failed to encode event", err)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logger.Error("failed to insert event", zap.Error(err), zap.String("event_id", event.ID))
		return es.NewError("postgres.EventsRepository.Create", es.KindStorage, "failed to insert event", err)
	}
	return nil
}

func (r *EventsRepository) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&eventRow{}).Error; err != nil {
		return es.NewError("postgres.EventsRepository.DeleteAll", es.KindStorage, "failed to delete events", err)
	}
	return nil
}

func (r *EventsRepository) MarkRecorded(ctx context.Context, id string, recordedAt time.Time, createdBy string) error {
	var row eventRow
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return es.NewError("postgres.EventsRepository.MarkRecorded", es.KindNotFound, "event not found", err)
		}
		return es.NewError("postgres.EventsRepository.MarkRecorded", es.KindStorage, "failed to load event", err)
	}

	updates := map[string]interface{}{"recorded_at": recordedAt}
	if row.CreatedBy == "" && createdBy != "" {
		updates["created_by"] = createdBy
	}
	if err := r.db.WithContext(ctx).Model(&eventRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return es.NewError("postgres.EventsRepository.MarkRecorded", es.KindStorage, "failed to mark event recorded", err)
	}
	return nil
}

func (r *EventsRepository) GetUnrecorded(ctx context.Context) ([]es.Event, error) {
	var rows []eventRow
	if err := r.db.WithContext(ctx).Where("recorded_at IS NULL").Order("dispatched_at asc").Find(&rows).Error; err != nil {
		return nil, es.NewError("postgres.EventsRepository.GetUnrecorded", es.KindStorage, "failed to list unrecorded events", err)
	}
	return rowsToEvents(rows)
}

func (r *EventsRepository) GetLastReceivedEvent(ctx context.Context, localDeviceID string) (es.Event, bool, error) {
	var row eventRow
	err := r.db.WithContext(ctx).
		Where("recorded_at IS NOT NULL AND created_on <> ?", localDeviceID).
		Order("recorded_at desc").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return es.Event{}, false, nil
	}
	if err != nil {
		return es.Event{}, false, es.NewError("postgres.EventsRepository.GetLastReceivedEvent", es.KindStorage, "failed to query last received event", err)
	}
	event, err := fromRow(row)
	if err != nil {
		return es.Event{}, false, es.NewError("postgres.EventsRepository.GetLastReceivedEvent", es.KindStorage, "failed to decode event", err)
	}
	return event, true, nil
}

func rowsToEvents(rows []eventRow) ([]es.Event, error) {
	events := make([]es.Event, 0, len(rows))
	for _, row := range rows {
		event, err := fromRow(row)
		if err != nil {
			return nil, es.NewError("postgres.EventsRepository", es.KindStorage, "failed to decode event", err)
		}
		events = append(events, event)
	}
	return events, nil
}

var _ es.EventsRepository = (*EventsRepository)(nil)
