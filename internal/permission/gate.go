// Package permission decides whether the process is authorized to scan.
//
// A Gate answers a single yes/no question. A denied answer is not an error:
// callers show a static message instead of the scanner. Errors are reserved
// for failures to find out.
package permission

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
)

// Gate reports whether scanning is authorized
type Gate interface {
	Authorized(ctx context.Context) (bool, error)
}

// StaticGate is a Gate with a fixed answer
type StaticGate bool

// Authorized returns the fixed answer
func (g StaticGate) Authorized(context.Context) (bool, error) {
	return bool(g), nil
}

// Prober opens the radio without scanning
type Prober interface {
	Probe(ctx context.Context) error
}

// RadioGate asks the platform by probing the radio adapter.
// The verdict is evaluated once and cached; Recheck evaluates it again,
// e.g. after the user changed system settings.
type RadioGate struct {
	prober Prober
	logger *logrus.Logger

	mu        sync.Mutex
	evaluated bool
	granted   bool
}

// NewRadioGate creates a gate backed by prober
func NewRadioGate(prober Prober, logger *logrus.Logger) *RadioGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &RadioGate{prober: prober, logger: logger}
}

// Authorized returns the cached verdict, evaluating it on first use.
func (g *RadioGate) Authorized(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.evaluated {
		return g.granted, nil
	}
	return g.evaluateLocked(ctx)
}

// Recheck discards the cached verdict and probes again.
func (g *RadioGate) Recheck(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluateLocked(ctx)
}

func (g *RadioGate) evaluateLocked(ctx context.Context) (bool, error) {
	err := g.prober.Probe(ctx)
	switch {
	case err == nil:
		g.granted = true
	case device.IsAuthorizationError(err):
		g.logger.WithError(err).Warn("Bluetooth access denied")
		g.granted = false
	default:
		// unknown failure: leave the verdict unevaluated so a later call retries
		g.evaluated = false
		return false, err
	}

	g.evaluated = true
	g.logger.WithField("granted", g.granted).Debug("Bluetooth authorization evaluated")
	return g.granted, nil
}
