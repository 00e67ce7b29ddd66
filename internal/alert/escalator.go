package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/nerrad567/propertyhub-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/propertyhub-core/internal/infrastructure/metrics"
	"github.com/nerrad567/propertyhub-core/internal/notify"
)

// Escalation defaults.
const (
	DefaultLookback    = 5 * time.Minute
	DefaultDedupWindow = 4 * time.Hour

	lockKeyEscalation = "propertyhub:lock:escalation"
	lockKeySLASweep   = "propertyhub:lock:sla_sweep"
)

// Notifier accepts fire-and-forget notifications.
type Notifier interface {
	Notify(n notify.Notification)
}

// Publisher forwards incident events to realtime clients.
type Publisher interface {
	PublishIncident(inc Incident)
	PublishBreach(inc Incident, hoursOverdue float64)
}

// Policy configures the Escalator.
type Policy struct {
	// Lookback limits candidates to alerts created this recently.
	Lookback time.Duration
	// DedupWindow suppresses a new incident when one for the same scope and
	// category was created this recently and is still active.
	DedupWindow time.Duration
	// Severities that escalate. Defaults to critical and emergency.
	Severities []Severity
	SLA        SLATable
}

// DefaultPolicy returns the standard escalation policy.
func DefaultPolicy() Policy {
	return Policy{
		Lookback:    DefaultLookback,
		DedupWindow: DefaultDedupWindow,
		Severities:  []Severity{SeverityCritical, SeverityEmergency},
		SLA:         DefaultSLATable(),
	}
}

// Escalator turns urgent alerts into incidents and flags SLA breaches.
//
// Escalate and SweepSLA are independent and are normally run by separate
// process loops. Each returns early on the first store error; the next
// tick starts over.
type Escalator struct {
	store    IncidentStore
	resolver ScopeResolver
	policy   Policy

	notifier  Notifier
	publisher Publisher
	metrics   *metrics.Metrics
	logger    Logger
	now       func() time.Time

	lock      kvstore.Store
	lockOwner string
	lockTTL   time.Duration
}

// NewEscalator creates an Escalator. A nil resolver uses the alert source
// as the scope.
func NewEscalator(store IncidentStore, resolver ScopeResolver, policy Policy) *Escalator {
	def := DefaultPolicy()
	if policy.Lookback <= 0 {
		policy.Lookback = def.Lookback
	}
	if policy.DedupWindow <= 0 {
		policy.DedupWindow = def.DedupWindow
	}
	if len(policy.Severities) == 0 {
		policy.Severities = def.Severities
	}
	if policy.SLA == nil {
		policy.SLA = def.SLA
	}
	if resolver == nil {
		resolver = StaticScopes(nil)
	}
	return &Escalator{
		store:    store,
		resolver: resolver,
		policy:   policy,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetNotifier sets where incident and breach notifications go.
func (e *Escalator) SetNotifier(n Notifier) { e.notifier = n }

// SetPublisher sets where realtime incident events go.
func (e *Escalator) SetPublisher(p Publisher) { e.publisher = p }

// SetMetrics sets the metrics collector.
func (e *Escalator) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetLogger sets the logger.
func (e *Escalator) SetLogger(l Logger) { e.logger = l }

// SetClock replaces the time source.
func (e *Escalator) SetClock(now func() time.Time) { e.now = now }

// SetLock makes each sweep take a lock in store so that only one instance
// sweeps at a time. owner identifies this instance in the lock value. The
// lock is released when the sweep returns; ttl only bounds how long a crashed
// holder can block the others.
func (e *Escalator) SetLock(store kvstore.Store, owner string, ttl time.Duration) {
	e.lock, e.lockOwner, e.lockTTL = store, owner, ttl
}

// Escalate creates incidents for qualifying alerts and returns how many it
// created.
func (e *Escalator) Escalate(ctx context.Context) (int, error) {
	if !e.acquire(ctx, lockKeyEscalation) {
		return 0, nil
	}
	defer e.release(ctx, lockKeyEscalation)
	now := e.now().UTC()

	candidates, err := e.store.EscalationCandidates(ctx, now.Add(-e.policy.Lookback), e.policy.Severities)
	if err != nil {
		return 0, e.fail("escalation", fmt.Errorf("loading escalation candidates: %w", err))
	}

	created := 0
	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		ok, err := e.escalate(ctx, a, now)
		if err != nil {
			return created, e.fail("escalation", err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (e *Escalator) escalate(ctx context.Context, a Alert, now time.Time) (bool, error) {
	if !lo.Contains(e.policy.Severities, a.Severity) {
		return false, nil
	}

	if _, err := e.store.IncidentForAlert(ctx, a.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrIncidentNotFound) {
		return false, fmt.Errorf("checking incident for alert %s: %w", a.ID, err)
	}

	scope := e.resolver.ResolveScope(ctx, a.Source)

	existing, err := e.store.ActiveIncident(ctx, scope, a.Category, now.Add(-e.policy.DedupWindow))
	switch {
	case err == nil:
		e.logger.Debug("alert deduplicated into active incident",
			"alert_id", a.ID, "incident_id", existing.ID, "scope", scope, "category", a.Category)
		return false, nil
	case !errors.Is(err, ErrIncidentNotFound):
		return false, fmt.Errorf("checking active incident for %s/%s: %w", scope, a.Category, err)
	}

	priority := PriorityFor(a.Severity)
	inc := Incident{
		ID:        uuid.NewString(),
		AlertID:   a.ID,
		Scope:     scope,
		Category:  a.Category,
		Priority:  priority,
		Status:    IncidentOpen,
		SLADue:    now.Add(e.policy.SLA.For(priority)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateIncident(ctx, &inc); err != nil {
		if errors.Is(err, ErrIncidentExists) {
			return false, nil
		}
		return false, fmt.Errorf("creating incident for alert %s: %w", a.ID, err)
	}

	e.logger.Info("incident created",
		"incident_id", inc.ID, "alert_id", a.ID, "scope", scope,
		"category", a.Category, "priority", string(priority), "sla_due", inc.SLADue)
	e.metrics.IncidentCreated(string(priority))

	if e.notifier != nil {
		e.notifier.Notify(notify.Notification{
			Title: fmt.Sprintf("Incident opened: %s", a.Category),
			Message: fmt.Sprintf("%s alert from %s: %s (SLA due %s)",
				a.Severity, a.Source, a.Message, inc.SLADue.Format(time.RFC3339)),
			Priority: notificationPriority(priority),
			Tags:     []string{"incident", string(priority), scope},
		})
	}
	if e.publisher != nil {
		e.publisher.PublishIncident(inc)
	}
	return true, nil
}

// SweepSLA flags overdue incidents as breached and returns how many it
// flagged.
func (e *Escalator) SweepSLA(ctx context.Context) (int, error) {
	if !e.acquire(ctx, lockKeySLASweep) {
		return 0, nil
	}
	defer e.release(ctx, lockKeySLASweep)
	now := e.now().UTC()

	overdue, err := e.store.OverdueIncidents(ctx, now)
	if err != nil {
		return 0, e.fail("sla", fmt.Errorf("loading overdue incidents: %w", err))
	}

	breached := 0
	for _, inc := range overdue {
		if err := ctx.Err(); err != nil {
			return breached, err
		}
		ok, err := e.store.MarkBreached(ctx, inc.ID, now)
		if err != nil {
			return breached, e.fail("sla", err)
		}
		if !ok {
			continue
		}
		breached++

		inc.Breached = true
		inc.BreachedAt = &now
		hours := inc.HoursOverdue(now)

		e.logger.Warn("incident SLA breached",
			"incident_id", inc.ID, "scope", inc.Scope, "category", inc.Category,
			"priority", string(inc.Priority), "hours_overdue", hours)
		e.metrics.SLABreached()

		if e.notifier != nil {
			e.notifier.Notify(notify.Notification{
				Title: fmt.Sprintf("SLA breached: %s", inc.Category),
				Message: fmt.Sprintf("Incident %s for %s (%s) is %.1f hours overdue",
					inc.ID, inc.Scope, inc.Priority, hours),
				Priority: notify.PriorityUrgent,
				Tags:     []string{"sla_breach", string(inc.Priority), inc.Scope},
			})
		}
		if e.publisher != nil {
			e.publisher.PublishBreach(inc, hours)
		}
	}
	return breached, nil
}

// acquire takes the sweep lock when one is configured. If the lock store
// is unreachable the sweep runs anyway.
func (e *Escalator) acquire(ctx context.Context, key string) bool {
	if e.lock == nil {
		return true
	}
	ok, err := e.lock.SetNX(ctx, key, e.lockOwner, e.lockTTL)
	if err != nil {
		e.logger.Warn("sweep lock unavailable, sweeping anyway", "key", key, "error", err)
		return true
	}
	if !ok {
		e.logger.Debug("sweep lock held by another instance", "key", key)
	}
	return ok
}

// release drops the sweep lock if this instance still holds it. A lock
// that expired and was taken by another instance is left alone.
func (e *Escalator) release(ctx context.Context, key string) {
	if e.lock == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	owner, err := e.lock.Get(ctx, key)
	if err != nil || owner != e.lockOwner {
		return
	}
	if err := e.lock.Delete(ctx, key); err != nil {
		e.logger.Warn("releasing sweep lock failed", "key", key, "error", err)
	}
}

func (e *Escalator) fail(sweep string, err error) error {
	e.metrics.SweepFailed(sweep)
	e.logger.Error("sweep aborted", "sweep", sweep, "error", err)
	return err
}

func notificationPriority(p Priority) notify.Priority {
	switch p {
	case PriorityCritical:
		return notify.PriorityUrgent
	case PriorityHigh:
		return notify.PriorityHigh
	case PriorityLow:
		return notify.PriorityLow
	default:
		return notify.PriorityDefault
	}
}
