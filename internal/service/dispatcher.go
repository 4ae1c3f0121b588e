package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
	"github.com/kursadbilgin/lifelink-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// Composer renders the text sent to a donor. Its output is opaque to the
// controller.
type Composer interface {
	Compose(donor domain.Donor, req domain.Request, candidate matching.Candidate) string
}

// ComposerFunc adapts a plain function to Composer.
type ComposerFunc func(donor domain.Donor, req domain.Request, candidate matching.Candidate) string

func (f ComposerFunc) Compose(donor domain.Donor, req domain.Request, candidate matching.Candidate) string {
	return f(donor, req, candidate)
}

const defaultMessageTemplate = `{{.Opening}} {{.DonorName}}, {{.Hospital}} needs {{.BloodType}} blood for {{.PatientName}}. ` +
	`You are about {{printf "%.1f" .DistanceKM}} km away. Reply YES to donate or NO to decline.`

var urgencyOpenings = map[domain.Urgency]string{
	domain.UrgencyCritical: "URGENT:",
	domain.UrgencyHigh:     "Priority request:",
	domain.UrgencyMedium:   "Hello",
	domain.UrgencyLow:      "Hello",
}

type messageView struct {
	Opening     string
	DonorName   string
	PatientName string
	Hospital    string
	BloodType   string
	DistanceKM  float64
}

// TemplateComposer is the default Composer with urgency-specific wording.
type TemplateComposer struct {
	tmpl *template.Template
}

func NewTemplateComposer(text string) (*TemplateComposer, error) {
	if strings.TrimSpace(text) == "" {
		text = defaultMessageTemplate
	}
	tmpl, err := template.New("donor-message").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}
	return &TemplateComposer{tmpl: tmpl}, nil
}

func (c *TemplateComposer) Compose(donor domain.Donor, req domain.Request, candidate matching.Candidate) string {
	opening, ok := urgencyOpenings[req.Urgency]
	if !ok {
		opening = "Hello"
	}
	name := strings.TrimSpace(donor.Name)
	if name == "" {
		name = "donor"
	}

	view := messageView{
		Opening:     opening,
		DonorName:   name,
		PatientName: req.PatientName,
		Hospital:    req.Hospital,
		BloodType:   req.BloodType.String(),
		DistanceKM:  candidate.DistanceKM,
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, view); err != nil {
		return fmt.Sprintf("%s %s, %s needs %s blood. Reply YES or NO.", opening, name, req.Hospital, req.BloodType)
	}
	return buf.String()
}

// Dispatcher sends one composed notification through the rate limiter and
// provider. It never retries: a failed send is the caller's implicit decline.
type Dispatcher struct {
	composer    Composer
	rateLimiter ratelimit.RateLimiter
	provider    provider.Provider
	sendTimeout time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDispatcher(
	p provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	composer Composer,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Noop{}
	}
	if composer == nil {
		tc, err := NewTemplateComposer("")
		if err != nil {
			return nil, err
		}
		composer = tc
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		composer:    composer,
		rateLimiter: rateLimiter,
		provider:    p,
		sendTimeout: sendTimeout,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

func (d *Dispatcher) Compose(donor domain.Donor, req domain.Request, candidate matching.Candidate) string {
	return d.composer.Compose(donor, req, candidate)
}

// Dispatch calls the provider exactly once for n.
func (d *Dispatcher) Dispatch(ctx context.Context, donor domain.Donor, n domain.Notification) error {
	msg := provider.Message{
		NotificationID: n.ID,
		RequestID:      n.RequestID,
		DonorID:        donor.ID,
		Channel:        n.Channel,
		Recipient:      donor.ContactAddress(),
		Content:        n.Message,
	}
	channelName := strings.ToLower(n.Channel.String())

	if err := d.rateLimiter.Wait(ctx, n.Channel); err != nil {
		d.metrics.IncNotificationDispatched(channelName, false)
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	sendStart := d.now()
	resp, err := d.provider.Send(sendCtx, msg)
	d.metrics.ObserveNotificationSendDuration(channelName, d.now().Sub(sendStart))
	d.metrics.IncNotificationDispatched(channelName, err == nil)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("notificationId", n.ID),
		zap.String("requestId", n.RequestID),
		zap.String("donorId", donor.ID),
		zap.String("channel", channelName),
		zap.Int("attempt", n.Attempt),
	}
	if resp != nil && resp.MessageID != "" {
		fields = append(fields, zap.String("providerMessageId", resp.MessageID))
	}
	observability.WithContextLogger(d.logger, ctx).Info("donor notified", fields...)
	return nil
}
