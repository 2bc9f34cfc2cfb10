package aqua

import "time"

// LoadBalancerPolicy selects how Orchestrator.chooseNode ranks connected
// nodes.
type LoadBalancerPolicy string

const (
	LoadBalancerLeastLoad LoadBalancerPolicy = "leastLoad" // default
	LoadBalancerLeastRest LoadBalancerPolicy = "leastRest"
	LoadBalancerRandom    LoadBalancerPolicy = "random"
)

// FailoverOptions holds the worker-failover settings. Only PreservePosition
// is read: the failover engine uses its fixed failoverCooldown,
// failoverMaxAttempts and failoverMaxConcurrent constants (5s, 5, 10), so
// CooldownTime, MaxFailoverAttempts and MaxConcurrentOps have no effect.
type FailoverOptions struct {
	CooldownTime         time.Duration // default 5s
	MaxFailoverAttempts  int           // default 5
	MaxConcurrentOps     int           // default 10
	PreservePosition     bool          // default true, used by restore
}

func defaultFailoverOptions() FailoverOptions {
	return FailoverOptions{
		CooldownTime:        5 * time.Second,
		MaxFailoverAttempts: 5,
		MaxConcurrentOps:    10,
		PreservePosition:    true,
	}
}

// NodeConfig describes one worker to connect to. SessionID is populated
// automatically from a prior save/restore cycle or a worker's "ready" frame
// and should normally be left empty by callers.
type NodeConfig struct {
	Name      string
	Host      string
	Port      int
	SSL       bool
	Auth      string
	Regions   []string
	Timeout   time.Duration // REST/WS timeout, default 15s
	SessionID string
}

// AutoplayProvider resolves a follow-up track from the last played track's
// source autoplay. It is an external collaborator: aqua ships
// only this interface and a no-op default, never a concrete YouTube/
// SoundCloud/Spotify implementation.
type AutoplayProvider interface {
	// NextTrack returns a candidate track to play after last, or an error
	// if no candidate could be produced. sourceName is last.SourceName.
	NextTrack(sourceName string, last *Track, seed string) (*Track, error)
}

type noopAutoplayProvider struct{}

func (noopAutoplayProvider) NextTrack(string, *Track, string) (*Track, error) {
	return nil, ErrQueueEmpty
}

// Saver persists and restores player state. FileSaver
// (package internal/persistence) implements the AquaPlayers.jsonl protocol;
// RedisSaver is an enrichment alternate backend.
type Saver interface {
	SaveNodeSessions(sessions map[string]string) error
	SavePlayer(snapshot PlayerSnapshot) error
	LoadNodeSessions() (map[string]string, error)
	LoadPlayers() ([]PlayerSnapshot, error)
	Truncate() error
}

// Options configures an Orchestrator. Construct with NewOptions and the
// With* functional options, the same convention retrylimit.NewAdaptiveLimiter
// and jobmgr.NewManager use.
type Options struct {
	ClientID              string
	SendVoiceUpdate        func(packet VoiceJoinPacket) error
	LoadBalancer          LoadBalancerPolicy
	UseHTTP2              bool
	AutoResume            bool
	InfiniteReconnects    bool
	AutoRegionMigrate     bool
	ShouldDeleteMessage   bool
	DefaultSearchPlatform string
	LeaveOnEnd            bool
	RestVersion           string
	Failover              FailoverOptions
	MaxQueueSave          int
	MaxTracksRestore      int
	DebugTrace            bool
	TraceMaxEntries       int
	Saver                 Saver
	Autoplay              AutoplayProvider
	NodeConnectTimeout    time.Duration
	AutosaveInterval      time.Duration
	StatsPollInterval     time.Duration
}

// Option mutates an Options during construction.
type Option func(*Options)

// NewOptions builds an Options with aqua's documented defaults.
func NewOptions(clientID string, send func(VoiceJoinPacket) error, opts ...Option) *Options {
	o := &Options{
		ClientID:              clientID,
		SendVoiceUpdate:       send,
		LoadBalancer:          LoadBalancerLeastLoad,
		RestVersion:           "v4",
		DefaultSearchPlatform: "ytsearch",
		Failover:              defaultFailoverOptions(),
		MaxQueueSave:          20,
		MaxTracksRestore:      20,
		TraceMaxEntries:       3000,
		Autoplay:              noopAutoplayProvider{},
		NodeConnectTimeout:    30 * time.Second,
		AutosaveInterval:      0,
		StatsPollInterval:     30 * time.Second,
	}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

func WithLoadBalancer(p LoadBalancerPolicy) Option { return func(o *Options) { o.LoadBalancer = p } }
func WithHTTP2(enabled bool) Option                { return func(o *Options) { o.UseHTTP2 = enabled } }
func WithAutoResume(enabled bool) Option            { return func(o *Options) { o.AutoResume = enabled } }
func WithInfiniteReconnects(enabled bool) Option {
	return func(o *Options) { o.InfiniteReconnects = enabled }
}
func WithAutoRegionMigrate(enabled bool) Option {
	return func(o *Options) { o.AutoRegionMigrate = enabled }
}
func WithLeaveOnEnd(enabled bool) Option { return func(o *Options) { o.LeaveOnEnd = enabled } }
func WithFailoverOptions(f FailoverOptions) Option {
	return func(o *Options) { o.Failover = f }
}
func WithSaver(s Saver) Option               { return func(o *Options) { o.Saver = s } }
func WithAutoplayProvider(p AutoplayProvider) Option {
	return func(o *Options) { o.Autoplay = p }
}
func WithDebugTrace(enabled bool, maxEntries int) Option {
	return func(o *Options) {
		o.DebugTrace = enabled
		if maxEntries > 0 {
			o.TraceMaxEntries = maxEntries
		}
	}
}
func WithQueueSaveCaps(maxQueueSave, maxTracksRestore int) Option {
	return func(o *Options) {
		o.MaxQueueSave = maxQueueSave
		o.MaxTracksRestore = maxTracksRestore
	}
}

// WithAutosave enables a periodic persistAll sweep every interval, in
// addition to the save-on-Destroy path. Zero disables it, the default:
// without it, a Saver is written only on Destroy or an explicit Save.
func WithAutosave(interval time.Duration) Option {
	return func(o *Options) { o.AutosaveInterval = interval }
}

// WithStatsPollInterval sets how often each Node polls GET /stats as a
// fallback to the worker's pushed "stats" WS frame, feeding the metrics
// exposition in internal/metrics.
func WithStatsPollInterval(interval time.Duration) Option {
	return func(o *Options) { o.StatsPollInterval = interval }
}
