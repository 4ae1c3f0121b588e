package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/gorm"
)

// Resolution is the one-time outcome written onto a SENT notification.
type Resolution struct {
	State           domain.NotificationState
	ResponseLatency *time.Duration
	SendError       *string
	RespondedAt     time.Time
}

type DonorRepository interface {
	Create(ctx context.Context, d *domain.Donor) error
	GetByID(ctx context.Context, id string) (*domain.Donor, error)
	ListByBloodType(ctx context.Context, bloodType domain.BloodType, status domain.ApprovalStatus) ([]domain.Donor, error)
	Update(ctx context.Context, d *domain.Donor) error
}

type RequestRepository interface {
	Create(ctx context.Context, r *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	// GetForUpdate reads the request holding a row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Request, error)
	ListPending(ctx context.Context, limit int) ([]domain.Request, error)
	Update(ctx context.Context, r *domain.Request) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	// ListByRequest returns notifications in contact order.
	ListByRequest(ctx context.Context, requestID string) ([]domain.Notification, error)
	// Resolve applies res only while the notification is still SENT and
	// reports whether it did.
	Resolve(ctx context.Context, id string, res Resolution) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
}

type PatternRepository interface {
	Get(ctx context.Context, donorID string) (*domain.DonorPattern, error)
	ListByDonorIDs(ctx context.Context, donorIDs []string) (map[string]domain.DonorPattern, error)
	Upsert(ctx context.Context, p *domain.DonorPattern) error
}

type EscalationRepository interface {
	Create(ctx context.Context, e *domain.EscalationLog) error
	ListSince(ctx context.Context, since time.Time) ([]domain.EscalationLog, error)
	ListPendingHandoff(ctx context.Context, limit int) ([]domain.EscalationLog, error)
	MarkHandedOff(ctx context.Context, id string, at time.Time) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store groups the repositories used by the matching engine. Repositories
// obtained from the tx argument of WithinTx commit or roll back together.
type Store interface {
	Donors() DonorRepository
	Requests() RequestRepository
	Notifications() NotificationRepository
	Patterns() PatternRepository
	Escalations() EscalationRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Donors() DonorRepository {
	return NewGormDonorRepo(s.db)
}

func (s *GormStore) Requests() RequestRepository {
	return NewGormRequestRepo(s.db)
}

func (s *GormStore) Notifications() NotificationRepository {
	return NewGormNotificationRepo(s.db)
}

func (s *GormStore) Patterns() PatternRepository {
	return NewGormPatternRepo(s.db)
}

func (s *GormStore) Escalations() EscalationRepository {
	return NewGormEscalationRepo(s.db)
}

func (s *GormStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
