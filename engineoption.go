package perdure

import (
	"fmt"
	"reflect"
	"runtime"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/dogmatiq/marshalkit"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	"github.com/perdure/perdure/continuation"
	"github.com/perdure/perdure/flags"
	"github.com/perdure/perdure/handler"
	"github.com/perdure/perdure/persistence"
	"github.com/perdure/perdure/persistence/provider/boltdb"
	"github.com/perdure/perdure/scheduler"
)

var (
	// DefaultPersistenceProvider is the default persistence provider.
	//
	// It is overridden by the WithPersistence() option.
	DefaultPersistenceProvider persistence.Provider = &boltdb.FileProvider{
		Path: "/var/run/perdure.boltdb",
	}

	// DefaultApplicationKey is the default key under which the engine
	// opens its data store.
	//
	// It is overridden by the WithApplicationKey() option.
	DefaultApplicationKey = "perdure"

	// DefaultMessageBackoff is the default backoff strategy for resume
	// message redelivery after infrastructure failures.
	//
	// It is overridden by the WithMessageBackoff() option.
	DefaultMessageBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(100*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 1*time.Hour),
	)

	// DefaultConcurrencyLimit is the default number of operations to
	// step concurrently.
	//
	// It is overridden by the WithConcurrencyLimit() option.
	DefaultConcurrencyLimit = uint(runtime.GOMAXPROCS(0) * 2)

	// DefaultLogger is the default target for log messages produced by
	// the engine.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// EngineOption configures the behavior of an engine.
type EngineOption func(*engineOptions)

// WithMachine returns an engine option that registers a machine with
// the engine.
//
// At least one machine must be registered.
func WithMachine(m *handler.Machine) EngineOption {
	return func(opts *engineOptions) {
		opts.Machines = append(opts.Machines, m)
	}
}

// WithJob returns an engine option that registers a recurring job with
// the engine's job producer.
func WithJob(j scheduler.Job) EngineOption {
	return func(opts *engineOptions) {
		opts.Jobs = append(opts.Jobs, j)
	}
}

// WithPersistence returns an engine option that sets the persistence
// provider used to store engine state.
//
// If this option is omitted or p is nil, DefaultPersistenceProvider is
// used.
func WithPersistence(p persistence.Provider) EngineOption {
	return func(opts *engineOptions) {
		opts.PersistenceProvider = p
	}
}

// WithApplicationKey returns an engine option that sets the key under
// which the engine opens its data store.
//
// If this option is omitted or k is empty, DefaultApplicationKey is
// used.
func WithApplicationKey(k string) EngineOption {
	return func(opts *engineOptions) {
		opts.ApplicationKey = k
	}
}

// WithOperationTimeout returns an engine option that sets the
// wall-clock budget for a whole operation, measured from its first
// step.
//
// If this option is omitted or d is zero the activator's default budget
// is used. Individual machines may override it.
func WithOperationTimeout(d time.Duration) EngineOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *engineOptions) {
		opts.OperationTimeout = d
	}
}

// WithMessageBackoff returns an engine option that sets the backoff
// strategy used to delay resume message redelivery and step retries.
//
// If this option is omitted or s is nil DefaultMessageBackoff is used.
func WithMessageBackoff(s backoff.Strategy) EngineOption {
	return func(opts *engineOptions) {
		opts.MessageBackoff = s
	}
}

// WithConcurrencyLimit returns an engine option that limits the number
// of operations that will be stepped at the same time.
//
// If this option is omitted or n is non-positive DefaultConcurrencyLimit
// is used.
func WithConcurrencyLimit(n uint) EngineOption {
	return func(opts *engineOptions) {
		opts.ConcurrencyLimit = n
	}
}

// WithFlags returns an engine option that sets the feature-flag
// provider used to gate recurring jobs.
//
// If this option is omitted or f is nil every flag is treated as
// enabled.
func WithFlags(f flags.Provider) EngineOption {
	return func(opts *engineOptions) {
		opts.Flags = f
	}
}

// NewDefaultMarshaler returns the default marshaler to use for the
// given machines.
//
// It is used if the WithMarshaler() option is omitted.
func NewDefaultMarshaler(machines []*handler.Machine) marshalkit.ValueMarshaler {
	var types []reflect.Type
	seen := map[reflect.Type]struct{}{}

	for _, m := range machines {
		for _, v := range m.PayloadTypes {
			t := reflect.TypeOf(v)
			if _, ok := seen[t]; ok {
				continue
			}

			seen[t] = struct{}{}
			types = append(types, t)
		}
	}

	m, err := codec.NewMarshaler(
		types,
		[]codec.Codec{
			&json.Codec{},
		},
	)
	if err != nil {
		panic(err)
	}

	return m
}

// WithMarshaler returns an engine option that sets the marshaler used
// to marshal and unmarshal step payloads.
//
// If this option is omitted or m is nil, NewDefaultMarshaler() is
// called to obtain the default marshaler.
func WithMarshaler(m marshalkit.ValueMarshaler) EngineOption {
	return func(opts *engineOptions) {
		opts.Marshaler = m
	}
}

// WithLogger returns an engine option that sets the target for log
// messages produced by the engine.
//
// If this option is omitted or l is nil DefaultLogger is used.
func WithLogger(l logging.Logger) EngineOption {
	return func(opts *engineOptions) {
		opts.Logger = l
	}
}

// engineOptions is a container for a fully-resolved set of engine
// options.
type engineOptions struct {
	Machines            []*handler.Machine
	Router              handler.Router
	Jobs                []scheduler.Job
	PersistenceProvider persistence.Provider
	ApplicationKey      string
	OperationTimeout    time.Duration
	MessageBackoff      backoff.Strategy
	ConcurrencyLimit    uint
	Marshaler           marshalkit.ValueMarshaler
	Flags               flags.Provider
	Logger              logging.Logger
}

// newPacker returns the packer the engine's activator uses.
func (opts *engineOptions) newPacker() *continuation.Packer {
	return &continuation.Packer{
		Marshaler: opts.Marshaler,
	}
}

// resolveEngineOptions returns a fully-populated set of engine options
// built from the given set of option functions.
func resolveEngineOptions(options ...EngineOption) *engineOptions {
	opts := &engineOptions{}

	for _, o := range options {
		o(opts)
	}

	if len(opts.Machines) == 0 {
		panic("no machines configured, see perdure.WithMachine()")
	}

	opts.Router = handler.NewRouter(opts.Machines...)

	for _, j := range opts.Jobs {
		if _, ok := opts.Router[j.Handler]; !ok {
			panic(fmt.Sprintf(
				"job %s targets unregistered machine %s",
				j.Name,
				j.Handler,
			))
		}
	}

	if opts.PersistenceProvider == nil {
		opts.PersistenceProvider = DefaultPersistenceProvider
	}

	if opts.ApplicationKey == "" {
		opts.ApplicationKey = DefaultApplicationKey
	}

	if opts.MessageBackoff == nil {
		opts.MessageBackoff = DefaultMessageBackoff
	}

	if opts.ConcurrencyLimit == 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	if opts.Marshaler == nil {
		opts.Marshaler = NewDefaultMarshaler(opts.Machines)
	}

	if opts.Logger == nil {
		opts.Logger = DefaultLogger
	}

	return opts
}
