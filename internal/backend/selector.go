package backend

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// EnvBackend forces a variant when set to "vm".
const EnvBackend = "NGBUNDLE_BACKEND"

// Probe tries to load one variant.
type Probe struct {
	Kind Kind
	Load func(ctx context.Context) (Backend, error)
}

// Selector picks the first loadable variant once and remembers the
// outcome, success or failure, for its lifetime. A failure caused by the
// caller's context ending is not remembered.
type Selector struct {
	probes []Probe

	mu      sync.Mutex
	decided bool
	backend Backend
	err     error
}

// NewSelector returns a selector trying probes in order.
func NewSelector(probes ...Probe) *Selector {
	return &Selector{probes: probes}
}

// Fixed returns a selector that always yields b.
func Fixed(b Backend) *Selector {
	return NewSelector(Probe{Kind: b.Kind(), Load: func(context.Context) (Backend, error) { return b, nil }})
}

// Ensure returns the selected backend, probing until a decision is made.
// Concurrent first calls wait for the same decision.
func (s *Selector) Ensure(ctx context.Context) (Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decided {
		return s.backend, s.err
	}
	b, err := s.probe(ctx)
	if err != nil && interrupted(ctx, err) {
		return nil, err
	}
	s.backend, s.err, s.decided = b, err, true
	return b, err
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Selector) probe(ctx context.Context) (Backend, error) {
	failed := &UnavailableError{Code: CodeUnavailable}
	for _, p := range s.probes {
		b, err := p.Load(ctx)
		if err == nil {
			log.Debug().Str("backend", string(b.Kind())).Str("version", b.Version()).Msg("Bundler backend selected")
			return b, nil
		}
		log.Debug().Err(err).Str("backend", string(p.Kind)).Msg("Bundler backend unavailable")
		failed.Attempts = append(failed.Attempts, ProbeError{Kind: p.Kind, Err: err})
	}
	return nil, failed
}

var defaultSelector = sync.OnceValue(func() *Selector {
	return NewSelector(NativeProbe(), VMProbe())
})

// Default returns the process-wide selector: native first, then VM.
func Default() *Selector {
	return defaultSelector()
}

func forcedVM() bool {
	return os.Getenv(EnvBackend) == string(KindVM)
}
