package journal

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/outlet-console/internal/model"
)

// DefaultQueueSize — размер очереди записей журнала по умолчанию.
const DefaultQueueSize = 256

const recordTimeout = 10 * time.Second

// ErrQueueFull возвращается, если очередь записей журнала заполнена и запись отброшена.
var ErrQueueFull = errors.New("journal queue is full")

// Store описывает хранилище журнала.
type Store interface {
	Record(ctx context.Context, rec model.TransitionRecord) error
	List(ctx context.Context, outletID, orderID string) ([]model.TransitionRecord, error)
}

// Queue принимает записи журнала, не дожидаясь хранилища, и пишет их в фоне.
// Запись в БД никогда не задерживает ответ на запрос смены статуса.
type Queue struct {
	store   Store
	records chan model.TransitionRecord
	logger  *zap.Logger
	timeout time.Duration
}

// NewQueue создаёт очередь поверх store. Неположительный size заменяется DefaultQueueSize.
func NewQueue(store Store, size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		store:   store,
		records: make(chan model.TransitionRecord, size),
		logger:  logger,
		timeout: recordTimeout,
	}
}

// Record ставит запись в очередь. Если очередь заполнена, запись отбрасывается с ErrQueueFull.
func (q *Queue) Record(_ context.Context, rec model.TransitionRecord) error {
	select {
	case q.records <- rec:
		return nil
	default:
		return ErrQueueFull
	}
}

// List читает историю напрямую из хранилища.
func (q *Queue) List(ctx context.Context, outletID, orderID string) ([]model.TransitionRecord, error) {
	return q.store.List(ctx, outletID, orderID)
}

// Run пишет записи из очереди, пока не отменён ctx. Начатая запись не прерывается отменой ctx,
// её ограничивает только таймаут записи. После отмены оставшиеся записи дописываются
// в пределах одного таймаута.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case rec := <-q.records:
			q.write(context.WithoutCancel(ctx), rec)
		case <-ctx.Done():
			q.drain()
			return
		}
	}
}

func (q *Queue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	for {
		select {
		case rec := <-q.records:
			if ctx.Err() != nil {
				q.logger.Warn("journal record dropped on shutdown",
					zap.String("request_id", rec.RequestID), zap.Int("pending", len(q.records)))
				continue
			}
			q.write(ctx, rec)
		default:
			return
		}
	}
}

func (q *Queue) write(ctx context.Context, rec model.TransitionRecord) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.store.Record(ctx, rec); err != nil {
		q.logger.Error("write journal record error",
			zap.String("request_id", rec.RequestID), zap.String("order", rec.OrderID), zap.Error(err))
	}
}
