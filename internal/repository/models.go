package repository

import (
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"gorm.io/datatypes"
)

// DonorModel is the persistence model for the donors table.
type DonorModel struct {
	ID             string                `gorm:"type:varchar(36);primaryKey"`
	Name           string                `gorm:"type:varchar(255);not null"`
	Email          string                `gorm:"type:varchar(255)"`
	Phone          string                `gorm:"type:varchar(32)"`
	BloodType      domain.BloodType      `gorm:"type:varchar(3);not null;index:idx_donors_blood_type_status,priority:1"`
	ApprovalStatus domain.ApprovalStatus `gorm:"type:varchar(10);not null;index:idx_donors_blood_type_status,priority:2"`
	Latitude       float64               `gorm:"not null"`
	Longitude      float64               `gorm:"not null"`
	Donations      int                   `gorm:"not null;default:0"`
	Points         int                   `gorm:"not null;default:0"`
	LastDonation   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DonorModel) TableName() string {
	return "donors"
}

// RequestModel is the persistence model for blood_requests.
type RequestModel struct {
	ID             string              `gorm:"type:varchar(36);primaryKey"`
	BloodType      domain.BloodType    `gorm:"type:varchar(3);not null"`
	Latitude       float64             `gorm:"not null"`
	Longitude      float64             `gorm:"not null"`
	PatientName    string              `gorm:"type:varchar(255);not null"`
	Hospital       string              `gorm:"type:varchar(255);not null"`
	Urgency        domain.Urgency      `gorm:"type:varchar(10);not null"`
	State          domain.RequestState `gorm:"type:varchar(20);not null;index:idx_requests_state_created,priority:1"`
	MatchedDonorID *string             `gorm:"type:varchar(36)"`
	Reason         string              `gorm:"type:varchar(255)"`
	SourceText     *string             `gorm:"type:text"`
	AcceptedAt     *time.Time
	EscalatedAt    *time.Time
	CompletedAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time `gorm:"index:idx_requests_state_created,priority:2"`
	UpdatedAt      time.Time
}

func (RequestModel) TableName() string {
	return "blood_requests"
}

// NotificationModel is the persistence model for donor_notifications.
type NotificationModel struct {
	ID                string                   `gorm:"type:varchar(36);primaryKey"`
	RequestID         string                   `gorm:"type:varchar(36);not null;index:idx_notifications_request_created,priority:1;uniqueIndex:idx_notifications_request_donor,priority:1"`
	DonorID           string                   `gorm:"type:varchar(36);not null;uniqueIndex:idx_notifications_request_donor,priority:2"`
	Attempt           int                      `gorm:"not null"`
	Channel           domain.Channel           `gorm:"type:varchar(10);not null"`
	Message           string                   `gorm:"type:text;not null"`
	State             domain.NotificationState `gorm:"type:varchar(10);not null;index:idx_notifications_state_expires,priority:1"`
	ResponseLatencyMS *int64
	SendError         *string   `gorm:"type:text"`
	ExpiresAt         time.Time `gorm:"not null;index:idx_notifications_state_expires,priority:2"`
	RespondedAt       *time.Time
	CreatedAt         time.Time `gorm:"index:idx_notifications_request_created,priority:2"`
}

func (NotificationModel) TableName() string {
	return "donor_notifications"
}

// DonorPatternModel is the persistence model for donor_patterns.
type DonorPatternModel struct {
	DonorID            string  `gorm:"type:varchar(36);primaryKey"`
	ResponseRate       float64 `gorm:"not null"`
	AvgResponseTime    float64 `gorm:"not null"`
	PreferredStartHour int     `gorm:"not null"`
	PreferredEndHour   int     `gorm:"not null"`
	Observations       int     `gorm:"not null;default:0"`
	UpdatedAt          time.Time
}

func (DonorPatternModel) TableName() string {
	return "donor_patterns"
}

// EscalationLogModel is the persistence model for escalation_logs.
type EscalationLogModel struct {
	ID          string                      `gorm:"type:varchar(36);primaryKey"`
	RequestID   string                      `gorm:"type:varchar(36);not null;index"`
	Action      domain.EscalationActionType `gorm:"type:varchar(32);not null"`
	Reason      string                      `gorm:"type:varchar(255);not null"`
	Detail      datatypes.JSON
	HandedOffAt *time.Time
	CreatedAt   time.Time `gorm:"index"`
}

func (EscalationLogModel) TableName() string {
	return "escalation_logs"
}

func donorModelFromDomain(d *domain.Donor) *DonorModel {
	if d == nil {
		return nil
	}

	return &DonorModel{
		ID:             d.ID,
		Name:           d.Name,
		Email:          d.Email,
		Phone:          d.Phone,
		BloodType:      d.BloodType,
		ApprovalStatus: d.ApprovalStatus,
		Latitude:       d.Location.Latitude,
		Longitude:      d.Location.Longitude,
		Donations:      d.Donations,
		Points:         d.Points,
		LastDonation:   d.LastDonation,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func donorModelToDomain(m *DonorModel) *domain.Donor {
	if m == nil {
		return nil
	}

	return &domain.Donor{
		ID:             m.ID,
		Name:           m.Name,
		Email:          m.Email,
		Phone:          m.Phone,
		BloodType:      m.BloodType,
		ApprovalStatus: m.ApprovalStatus,
		Location:       domain.Location{Latitude: m.Latitude, Longitude: m.Longitude},
		Donations:      m.Donations,
		Points:         m.Points,
		LastDonation:   m.LastDonation,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func requestModelFromDomain(r *domain.Request) *RequestModel {
	if r == nil {
		return nil
	}

	return &RequestModel{
		ID:             r.ID,
		BloodType:      r.BloodType,
		Latitude:       r.Location.Latitude,
		Longitude:      r.Location.Longitude,
		PatientName:    r.PatientName,
		Hospital:       r.Hospital,
		Urgency:        r.Urgency,
		State:          r.State,
		MatchedDonorID: r.MatchedDonorID,
		Reason:         r.Reason,
		SourceText:     r.SourceText,
		AcceptedAt:     r.AcceptedAt,
		EscalatedAt:    r.EscalatedAt,
		CompletedAt:    r.CompletedAt,
		CancelledAt:    r.CancelledAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func requestModelToDomain(m *RequestModel) *domain.Request {
	if m == nil {
		return nil
	}

	return &domain.Request{
		ID:             m.ID,
		BloodType:      m.BloodType,
		Location:       domain.Location{Latitude: m.Latitude, Longitude: m.Longitude},
		PatientName:    m.PatientName,
		Hospital:       m.Hospital,
		Urgency:        m.Urgency,
		State:          m.State,
		MatchedDonorID: m.MatchedDonorID,
		Reason:         m.Reason,
		SourceText:     m.SourceText,
		AcceptedAt:     m.AcceptedAt,
		EscalatedAt:    m.EscalatedAt,
		CompletedAt:    m.CompletedAt,
		CancelledAt:    m.CancelledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:                n.ID,
		RequestID:         n.RequestID,
		DonorID:           n.DonorID,
		Attempt:           n.Attempt,
		Channel:           n.Channel,
		Message:           n.Message,
		State:             n.State,
		ResponseLatencyMS: latencyToMillis(n.ResponseLatency),
		SendError:         n.SendError,
		ExpiresAt:         n.ExpiresAt,
		RespondedAt:       n.RespondedAt,
		CreatedAt:         n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:              m.ID,
		RequestID:       m.RequestID,
		DonorID:         m.DonorID,
		Attempt:         m.Attempt,
		Channel:         m.Channel,
		Message:         m.Message,
		State:           m.State,
		ResponseLatency: millisToLatency(m.ResponseLatencyMS),
		SendError:       m.SendError,
		ExpiresAt:       m.ExpiresAt,
		RespondedAt:     m.RespondedAt,
		CreatedAt:       m.CreatedAt,
	}
}

func patternModelFromDomain(p *domain.DonorPattern) *DonorPatternModel {
	if p == nil {
		return nil
	}

	return &DonorPatternModel{
		DonorID:            p.DonorID,
		ResponseRate:       p.ResponseRate,
		AvgResponseTime:    p.AvgResponseTime,
		PreferredStartHour: p.PreferredWindow.StartHour,
		PreferredEndHour:   p.PreferredWindow.EndHour,
		Observations:       p.Observations,
		UpdatedAt:          p.UpdatedAt,
	}
}

func patternModelToDomain(m *DonorPatternModel) *domain.DonorPattern {
	if m == nil {
		return nil
	}

	return &domain.DonorPattern{
		DonorID:         m.DonorID,
		ResponseRate:    m.ResponseRate,
		AvgResponseTime: m.AvgResponseTime,
		PreferredWindow: domain.HourWindow{StartHour: m.PreferredStartHour, EndHour: m.PreferredEndHour},
		Observations:    m.Observations,
		UpdatedAt:       m.UpdatedAt,
	}
}

func escalationModelFromDomain(e *domain.EscalationLog) *EscalationLogModel {
	if e == nil {
		return nil
	}

	return &EscalationLogModel{
		ID:          e.ID,
		RequestID:   e.RequestID,
		Action:      e.Action,
		Reason:      e.Reason,
		Detail:      datatypes.JSON(e.Detail),
		HandedOffAt: e.HandedOffAt,
		CreatedAt:   e.CreatedAt,
	}
}

func escalationModelToDomain(m *EscalationLogModel) *domain.EscalationLog {
	if m == nil {
		return nil
	}

	var detail []byte
	if len(m.Detail) > 0 {
		detail = []byte(m.Detail)
	}

	return &domain.EscalationLog{
		ID:          m.ID,
		RequestID:   m.RequestID,
		Action:      m.Action,
		Reason:      m.Reason,
		Detail:      detail,
		HandedOffAt: m.HandedOffAt,
		CreatedAt:   m.CreatedAt,
	}
}

func latencyToMillis(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func millisToLatency(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}
