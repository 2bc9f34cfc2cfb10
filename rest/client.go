package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/keshon/aqua/pkg/retrylimit"
	"github.com/rs/zerolog"
)

// maxResponseSize caps how much of a worker response body is ever trusted,
// regardless of what its Content-Length claims.
const maxResponseSize = 10 * 1024 * 1024

// Config describes one Node's REST endpoint. A Client is always scoped to
// exactly one worker.
type Config struct {
	Host        string
	Port        int
	SSL         bool
	Auth        string
	UserID      string
	LibraryName string
	RestVersion string // default "v4"
	Timeout     time.Duration
	UseHTTP2    bool
	Logger      zerolog.Logger
}

// Client is the REST half of a Node's control plane: the RestClient of
// . It owns its own adaptive rate limiter and HTTP transport,
// both scoped to the single worker it talks to.
type Client struct {
	cfg     Config
	baseURL string

	httpClient *http.Client
	limiter    *retrylimit.AdaptiveLimiter
	logger     zerolog.Logger

	mu        sync.RWMutex
	sessionID string

	calls int64
}

// NewClient builds a Client for one worker. The returned Client issues no
// requests until a caller invokes one of its methods.
func NewClient(cfg Config) *Client {
	if cfg.RestVersion == "" {
		cfg.RestVersion = "v4"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s://%s:%d/%s", scheme, cfg.Host, cfg.Port, cfg.RestVersion),
		httpClient: &http.Client{
			Transport: buildTransport(cfg.SSL, cfg.UseHTTP2),
			Timeout:   cfg.Timeout,
		},
		limiter: retrylimit.NewAdaptiveLimiter(20, 2, 50, 2, 0.5),
		logger:  cfg.Logger,
	}
}

// SetSessionID records the worker session id issued by a "ready" frame, or
// clears it (empty string) to force the next request to omit the header,
// which in turn forces the worker to treat the next WS handshake as fresh.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID returns the currently recorded session id, or "" if none.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Calls returns the number of REST requests issued so far, used by aqua's
// leastRest load-balancer policy and the leastLoad composite score.
func (c *Client) Calls() int64 {
	return atomic.LoadInt64(&c.calls)
}

func (c *Client) sessionPath(guildID string) string {
	return fmt.Sprintf("/sessions/%s/players/%s", c.SessionID(), guildID)
}

// do issues one request, retrying transient failures per DefaultRetryConfig.
// A nil body sends no payload; a nil out discards the response body after
// validating its status.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	atomic.AddInt64(&c.calls, 1)
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: marshal request: %w", err)
		}
		payload = b
	}

	cfg := retrylimit.DefaultRetryConfig()
	cfg.Logger = &c.logger

	return retrylimit.WithRetryConfig(ctx, func() error {
		return c.attempt(ctx, method, fullURL, payload, out)
	}, c.limiter, cfg)
}

func (c *Client) attempt(ctx context.Context, method, fullURL string, payload []byte, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return &retrylimit.FatalError{Err: err}
	}
	req.Header.Set("Authorization", c.cfg.Auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Id", c.cfg.UserID)
	req.Header.Set("Client-Name", c.cfg.LibraryName)
	req.Header.Set("Accept-Encoding", acceptEncodingHeader)
	if sid := c.SessionID(); sid != "" {
		req.Header.Set("Session-Id", sid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	bodyStream, err := decodeBody(resp)
	if err != nil {
		return fmt.Errorf("rest: decompress response: %w", err)
	}
	defer bodyStream.Close()

	raw, err := io.ReadAll(io.LimitReader(bodyStream, maxResponseSize+1))
	if err != nil {
		return &NetworkError{Op: "read", URL: fullURL, Err: err}
	}
	if len(raw) > maxResponseSize {
		return &retrylimit.FatalError{Err: fmt.Errorf("rest: response exceeded %d bytes", maxResponseSize)}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Headers: resp.Header, URL: fullURL, Body: raw}
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return &retrylimit.FatalError{Err: apiErr}
		}
		return apiErr
	}

	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &retrylimit.FatalError{Err: fmt.Errorf("rest: decode response: %w", err)}
	}
	return nil
}

// UpdatePlayer issues a PATCH to /sessions/{sid}/players/{guild}, merging
// fields into the remote player. noReplace suppresses replacing a track
// that is already playing.
func (c *Client) UpdatePlayer(guildID string, fields UpdatePlayerFields, noReplace bool) (*PlayerState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	if noReplace {
		q.Set("noReplace", "true")
	}
	var state PlayerState
	if err := c.do(ctx, http.MethodPatch, c.sessionPath(guildID), q, fields, &state); err != nil {
		return nil, unwrapFatal(err)
	}
	return &state, nil
}

// GetPlayers lists every remote player the worker currently tracks for
// this session.
func (c *Client) GetPlayers() ([]PlayerState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	var states []PlayerState
	path := fmt.Sprintf("/sessions/%s/players", c.SessionID())
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &states); err != nil {
		return nil, unwrapFatal(err)
	}
	return states, nil
}

// GetPlayer fetches one remote player.
func (c *Client) GetPlayer(guildID string) (*PlayerState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	var state PlayerState
	if err := c.do(ctx, http.MethodGet, c.sessionPath(guildID), nil, nil, &state); err != nil {
		return nil, unwrapFatal(err)
	}
	return &state, nil
}

// DestroyPlayer tells the worker to tear down its remote player.
func (c *Client) DestroyPlayer(guildID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return unwrapFatal(c.do(ctx, http.MethodDelete, c.sessionPath(guildID), nil, nil, nil))
}

// LoadTracks resolves a URI or search query.
func (c *Client) LoadTracks(identifier string) (*LoadResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	q := url.Values{"identifier": {identifier}}
	var result LoadResult
	if err := c.do(ctx, http.MethodGet, "/loadtracks", q, nil, &result); err != nil {
		return nil, unwrapFatal(err)
	}
	return &result, nil
}

// DecodeTrack decodes one opaque encoded track payload. It validates the
// payload against the base64 alphabet locally before issuing a request,
//.
func (c *Client) DecodeTrack(encoded string) (*TrackInfo, error) {
	if !isValidTrackBase64(encoded) {
		return nil, fmt.Errorf("rest: invalid base64 track payload")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	q := url.Values{"encodedTrack": {encoded}}
	var info TrackInfo
	if err := c.do(ctx, http.MethodGet, "/decodetrack", q, nil, &info); err != nil {
		return nil, unwrapFatal(err)
	}
	return &info, nil
}

// DecodeTracks decodes many encoded track payloads in one request.
func (c *Client) DecodeTracks(encoded []string) ([]WireTrack, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	var tracks []WireTrack
	if err := c.do(ctx, http.MethodPost, "/decodetracks", nil, encoded, &tracks); err != nil {
		return nil, unwrapFatal(err)
	}
	return tracks, nil
}

// FetchStats polls GET /stats directly, distinct from the WS "stats" op
// push.
func (c *Client) FetchStats() (*Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, nil, &s); err != nil {
		return nil, unwrapFatal(err)
	}
	return &s, nil
}

// FetchInfo fetches the worker's capability descriptor, used on connect
// with a 10s watchdog (the caller supplies that via ctx).
func (c *Client) FetchInfo(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/info", nil, nil, &info); err != nil {
		return nil, unwrapFatal(err)
	}
	return &info, nil
}

// FetchVersion fetches the plain-text worker build version.
func (c *Client) FetchVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	fullURL := c.baseURL + "/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.cfg.Auth)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "GET", URL: fullURL, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Headers: resp.Header, URL: fullURL, Body: raw}
	}
	return string(raw), nil
}

// UpdateSession enables or tunes worker-side session resumption: whether
// the worker should keep players alive across a dropped control-plane
// connection, and for how long.
func (c *Client) UpdateSession(resuming bool, timeoutSeconds int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	path := fmt.Sprintf("/sessions/%s", c.SessionID())
	body := map[string]any{"resuming": resuming, "timeout": timeoutSeconds}
	return unwrapFatal(c.do(ctx, http.MethodPatch, path, nil, body, nil))
}

// Lyrics fetches the per-player lyrics track for guildID.
func (c *Client) Lyrics(guildID string, skipTrackSource bool) (*LyricsResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	path := fmt.Sprintf("/sessions/%s/players/%s/track/lyrics", c.SessionID(), guildID)
	q := url.Values{"skipTrackSource": {strconv.FormatBool(skipTrackSource)}}
	var res LyricsResult
	if err := c.do(ctx, http.MethodGet, path, q, nil, &res); err != nil {
		return nil, unwrapFatal(err)
	}
	return &res, nil
}

// LyricsByTrack fetches lyrics for an arbitrary encoded track, independent
// of any player.
func (c *Client) LyricsByTrack(encoded string) (*LyricsResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	q := url.Values{"track": {encoded}}
	var res LyricsResult
	if err := c.do(ctx, http.MethodGet, "/lyrics", q, nil, &res); err != nil {
		return nil, unwrapFatal(err)
	}
	return &res, nil
}

// LyricsSearch searches lyrics providers by free-text query.
func (c *Client) LyricsSearch(query string) (*LyricsResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	q := url.Values{"query": {query}}
	var res LyricsResult
	if err := c.do(ctx, http.MethodGet, "/lyrics/search", q, nil, &res); err != nil {
		return nil, unwrapFatal(err)
	}
	return &res, nil
}

// RoutePlannerStatus fetches the worker's IP rotator status verbatim.
func (c *Client) RoutePlannerStatus() (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/routeplanner/status", nil, nil, &raw); err != nil {
		return nil, unwrapFatal(err)
	}
	return raw, nil
}

// RoutePlannerUnmarkFailed clears one address from the worker's failed
// address list.
func (c *Client) RoutePlannerUnmarkFailed(address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	body := map[string]string{"address": address}
	return unwrapFatal(c.do(ctx, http.MethodPost, "/routeplanner/free/address", nil, body, nil))
}

// RoutePlannerUnmarkAll clears every failed address from the worker's
// rotator.
func (c *Client) RoutePlannerUnmarkAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	return unwrapFatal(c.do(ctx, http.MethodPost, "/routeplanner/free/all", nil, nil, nil))
}

// unwrapFatal strips retrylimit's FatalError wrapper so callers see the
// underlying *APIError/error directly; retrylimit is an implementation
// detail of this package, not part of its public error surface.
func unwrapFatal(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*retrylimit.FatalError); ok {
		return fe.Err
	}
	return err
}

const base64AlphabetForTracks = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=_-"

func isValidTrackBase64(s string) bool {
	if s == "" || len(s)%4 == 1 {
		return false
	}
	for _, r := range s {
		if !containsRune(base64AlphabetForTracks, r) {
			return false
		}
	}
	return true
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
