package startup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/pkg/catools"
)

// Ring-mode resolution defaults.
const (
	DefaultRingModeEnv = "RINGMODE"
	DefaultRingModePV  = "SR-CS-RING-01:MODE"
	DefaultRingMode    = "DIAD"
)

var (
	// ErrNotEnum is returned when the live ring-mode PV does not hold an enum.
	ErrNotEnum = catools.ErrNotEnum

	// ErrNoLabel is returned when the live enum index has no label.
	ErrNoLabel = catools.ErrNoLabel

	// ErrUnresolved is returned when every source declined.
	ErrUnresolved = errors.New("ring mode unresolved")
)

// Source is one step of the ring-mode fallback chain.
//
// Resolve returns ok=false to defer to the next source. A non-nil error
// aborts resolution.
type Source interface {
	Name() string
	Resolve(ctx context.Context) (mode string, ok bool, err error)
}

// ArgSource takes the first positional argument verbatim.
type ArgSource struct {
	Args []string
}

func (ArgSource) Name() string { return "arg" }

func (s ArgSource) Resolve(context.Context) (string, bool, error) {
	if len(s.Args) == 0 {
		return "", false, nil
	}
	return s.Args[0], true, nil
}

// EnvSource reads an environment variable. A variable set to the empty
// string counts as set.
type EnvSource struct {
	Key string

	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

func (EnvSource) Name() string { return "env" }

func (s EnvSource) Resolve(context.Context) (string, bool, error) {
	lookup := s.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(s.Key)
	return v, ok, nil
}

// LiveReader reads a PV with its control metadata. catools.Client
// implements it.
type LiveReader interface {
	GetCtrl(ctx context.Context, name string) (*catools.Ctrl, error)
}

// LiveSource asks a running peer for its ring mode and maps the enum index
// to its label. Only catools.ErrNoData defers to the next source; any other
// failure is returned.
type LiveSource struct {
	Reader LiveReader
	PV     string
}

func (LiveSource) Name() string { return "live" }

func (s LiveSource) Resolve(ctx context.Context) (string, bool, error) {
	ctrl, err := s.Reader.GetCtrl(ctx, s.PV)
	if errors.Is(err, catools.ErrNoData) {
		logger.Debug("No live ring mode from %s: %v", s.PV, err)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", s.PV, err)
	}

	label, err := ctrl.Label()
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", s.PV, err)
	}
	return label, true, nil
}

// DefaultSource always yields Mode.
type DefaultSource struct {
	Mode string
}

func (DefaultSource) Name() string { return "default" }

func (s DefaultSource) Resolve(context.Context) (string, bool, error) {
	return s.Mode, true, nil
}

// Resolution is a resolved ring mode and the name of the source it came from.
type Resolution struct {
	Mode   string
	Source string
}

// ModeResolver produces the ring mode of this process.
type ModeResolver interface {
	Resolve(ctx context.Context) (Resolution, error)
}

// Resolver tries its sources in order; the first that yields a mode wins
// and later sources are never consulted.
type Resolver struct {
	Sources []Source
}

// ResolverConfig parameterises NewResolver.
type ResolverConfig struct {
	Args      []string
	EnvKey    string
	LookupEnv func(string) (string, bool)
	Live      LiveReader
	PV        string
	Default   string
}

// NewResolver builds the standard chain: argument, environment, live PV,
// default. Empty names fall back to RINGMODE, SR-CS-RING-01:MODE and DIAD.
// A nil Live reader drops the live step.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.EnvKey == "" {
		cfg.EnvKey = DefaultRingModeEnv
	}
	if cfg.PV == "" {
		cfg.PV = DefaultRingModePV
	}
	if cfg.Default == "" {
		cfg.Default = DefaultRingMode
	}

	sources := []Source{
		ArgSource{Args: cfg.Args},
		EnvSource{Key: cfg.EnvKey, Lookup: cfg.LookupEnv},
	}
	if cfg.Live != nil {
		sources = append(sources, LiveSource{Reader: cfg.Live, PV: cfg.PV})
	}
	sources = append(sources, DefaultSource{Mode: cfg.Default})

	return &Resolver{Sources: sources}
}

// Resolve returns the first mode any source yields.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	for _, src := range r.Sources {
		mode, ok, err := src.Resolve(ctx)
		if err != nil {
			return Resolution{}, fmt.Errorf("%s source: %w", src.Name(), err)
		}
		if ok {
			return Resolution{Mode: mode, Source: src.Name()}, nil
		}
	}
	return Resolution{}, ErrUnresolved
}
