package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"wisefido-ventilation/internal/store"

	"go.uber.org/zap"
)

var (
	// ErrEnrollmentActive another owner is already being enrolled
	ErrEnrollmentActive = errors.New("enrollment already in progress")
	// ErrNoEnrollment no enrollment is in progress
	ErrNoEnrollment = errors.New("no enrollment in progress")
	// ErrAlreadyTrusted the device already belongs to an owner
	ErrAlreadyTrusted = errors.New("device already trusted")
)

// Device trusted network device
type Device struct {
	MAC      string    `json:"mac"`
	Owner    string    `json:"owner"`
	LastSeen time.Time `json:"last_seen"`
	Present  bool      `json:"present"`
}

// Registry trusted devices plus the single "adding new trusted user" mode
type Registry struct {
	mu        sync.Mutex
	devices   map[string]*Device
	unknown   map[string]time.Time // untrusted MACs seen recently, candidates for enrollment
	enrolling string               // owner being enrolled, "" when idle

	awayGrace time.Duration
	verify    chan string

	kv     store.KV
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates the registry and loads trusted devices from kv (kv may be nil)
func NewRegistry(ctx context.Context, kv store.KV, awayGrace time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		devices:   make(map[string]*Device),
		unknown:   make(map[string]time.Time),
		awayGrace: awayGrace,
		verify:    make(chan string, 32),
		kv:        kv,
		logger:    logger,
		now:       time.Now,
	}
	r.load(ctx)
	return r
}

func normalizeMAC(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}

func (r *Registry) load(ctx context.Context) {
	if r.kv == nil {
		return
	}
	var devices []Device
	if err := store.GetJSON(ctx, r.kv, store.KeyTrustedDevices, &devices); err != nil {
		if !errors.Is(err, store.ErrMiss) {
			r.logger.Warn("Failed to load trusted devices, starting empty", zap.Error(err))
		}
		return
	}
	for i := range devices {
		d := devices[i]
		d.Present = false
		r.devices[normalizeMAC(d.MAC)] = &d
	}
	r.logger.Info("Loaded trusted devices", zap.Int("count", len(r.devices)))
}

// persist must be called with mu held
func (r *Registry) persist(ctx context.Context) {
	if r.kv == nil {
		return
	}
	if err := store.SetJSON(ctx, r.kv, store.KeyTrustedDevices, r.snapshotLocked()); err != nil {
		r.logger.Error("Failed to persist trusted devices", zap.Error(err))
	}
}

func (r *Registry) snapshotLocked() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Trust registers mac for owner directly
func (r *Registry) Trust(ctx context.Context, mac, owner string) error {
	mac = normalizeMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[mac]; ok && d.Owner != owner {
		return fmt.Errorf("%w: %s owned by %s", ErrAlreadyTrusted, mac, d.Owner)
	}
	seen, present := r.unknown[mac]
	delete(r.unknown, mac)
	r.devices[mac] = &Device{MAC: mac, Owner: owner, LastSeen: seen, Present: present}
	r.persist(ctx)
	return nil
}

// Forget removes a trusted device
func (r *Registry) Forget(ctx context.Context, mac string) bool {
	mac = normalizeMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[mac]; !ok {
		return false
	}
	delete(r.devices, mac)
	r.persist(ctx)
	return true
}

// MarkSeen records a presence report. Unknown MACs are kept as enrollment
// candidates; while an enrollment is active the first unknown MAC completes it.
func (r *Registry) MarkSeen(ctx context.Context, mac string) {
	mac = normalizeMAC(mac)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[mac]; ok {
		d.LastSeen = now
		d.Present = true
		return
	}

	r.unknown[mac] = now
	if r.enrolling != "" {
		owner := r.enrolling
		r.devices[mac] = &Device{MAC: mac, Owner: owner, LastSeen: now, Present: true}
		delete(r.unknown, mac)
		r.enrolling = ""
		r.persist(ctx)
		r.logger.Info("Enrolled trusted device",
			zap.String("mac", mac),
			zap.String("owner", owner),
		)
	}
}

// MarkAway records an explicit absence report
func (r *Registry) MarkAway(mac string) {
	mac = normalizeMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[mac]; ok {
		d.Present = false
	}
	delete(r.unknown, mac)
}

// Sweep expires devices not seen within the grace period and queues them for
// verification. Returns the number of devices that went away.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for mac, d := range r.devices {
		if d.Present && now.Sub(d.LastSeen) > r.awayGrace {
			d.Present = false
			expired++
			r.requestVerificationLocked(mac)
		}
	}
	for mac, seen := range r.unknown {
		if now.Sub(seen) > r.awayGrace {
			delete(r.unknown, mac)
		}
	}
	return expired
}

// RequestVerification queues mac for a deferred reachability check; false when the queue is full
func (r *Registry) RequestVerification(mac string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestVerificationLocked(normalizeMAC(mac))
}

func (r *Registry) requestVerificationLocked(mac string) bool {
	select {
	case r.verify <- mac:
		return true
	default:
		r.logger.Debug("Verification queue full", zap.String("mac", mac))
		return false
	}
}

// Verifications is drained by the worker that performs the checks
func (r *Registry) Verifications() <-chan string {
	return r.verify
}

// OccupantCount distinct owners with at least one present device
func (r *Registry) OccupantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	owners := make(map[string]struct{})
	for _, d := range r.devices {
		if d.Present {
			owners[d.Owner] = struct{}{}
		}
	}
	return len(owners)
}

// Devices sorted by MAC
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// UnknownDevices MACs seen recently that are not trusted
func (r *Registry) UnknownDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.unknown))
	for mac := range r.unknown {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}

// BeginEnrollment starts the process-wide "adding new trusted user" mode
func (r *Registry) BeginEnrollment(owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enrolling != "" {
		return fmt.Errorf("%w for %s", ErrEnrollmentActive, r.enrolling)
	}
	r.enrolling = owner
	r.logger.Info("Enrollment started", zap.String("owner", owner))
	return nil
}

// CompleteEnrollment assigns mac to the owner being enrolled
func (r *Registry) CompleteEnrollment(ctx context.Context, mac string) (Device, error) {
	mac = normalizeMAC(mac)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enrolling == "" {
		return Device{}, ErrNoEnrollment
	}
	if d, ok := r.devices[mac]; ok {
		return Device{}, fmt.Errorf("%w: %s owned by %s", ErrAlreadyTrusted, mac, d.Owner)
	}
	seen, present := r.unknown[mac]
	d := &Device{MAC: mac, Owner: r.enrolling, LastSeen: seen, Present: present}
	r.devices[mac] = d
	delete(r.unknown, mac)
	r.enrolling = ""
	r.persist(ctx)
	return *d, nil
}

// CancelEnrollment ends the enrollment mode; false when none was active
func (r *Registry) CancelEnrollment() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enrolling == "" {
		return false
	}
	r.enrolling = ""
	return true
}

// Enrolling owner currently being enrolled
func (r *Registry) Enrolling() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enrolling, r.enrolling != ""
}
