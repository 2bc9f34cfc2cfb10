package persistence

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/keshon/aqua"
)

// RedisSaver is the enrichment alternate Saver of : the same
// {g,t,v,u,p,ts,q,r,vol,pa,pl,nw,resuming} schema as FileSaver, stored as
// one JSON string key per guild under keyPrefix (indexed by a set of saved
// guild ids), plus a single hash for node sessions, so a fleet of bot processes sharing one Lavalink cluster can
// share broken-player recovery state instead of each writing its own file.
type RedisSaver struct {
	client       *redis.Client
	keyPrefix    string
	maxQueueSave int
	log          zerolog.Logger
	ctx          context.Context
}

// NewRedisSaver builds a RedisSaver against an already-connected client.
// keyPrefix namespaces every key this Saver touches, e.g. "aqua:".
func NewRedisSaver(client *redis.Client, keyPrefix string, maxQueueSave int, logger zerolog.Logger) *RedisSaver {
	return &RedisSaver{
		client:       client,
		keyPrefix:    keyPrefix,
		maxQueueSave: maxQueueSave,
		log:          logger.With().Str("component", "persistence.redis").Logger(),
		ctx:          context.Background(),
	}
}

func (r *RedisSaver) sessionsKey() string        { return r.keyPrefix + "sessions" }
func (r *RedisSaver) playerKey(guildID string) string { return r.keyPrefix + "player:" + guildID }
func (r *RedisSaver) playersSetKey() string      { return r.keyPrefix + "players" }

func (r *RedisSaver) SaveNodeSessions(sessions map[string]string) error {
	if len(sessions) == 0 {
		return nil
	}
	fields := make(map[string]any, len(sessions))
	for name, sid := range sessions {
		fields[name] = sid
	}
	return r.client.HSet(r.ctx, r.sessionsKey(), fields).Err()
}

func (r *RedisSaver) SavePlayer(snapshot aqua.PlayerSnapshot) error {
	rec := toPersisted(snapshot, r.maxQueueSave)
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(r.ctx, r.playerKey(rec.GuildID), data, 0)
	pipe.SAdd(r.ctx, r.playersSetKey(), rec.GuildID)
	_, err = pipe.Exec(r.ctx)
	return err
}

func (r *RedisSaver) LoadNodeSessions() (map[string]string, error) {
	sessions, err := r.client.HGetAll(r.ctx, r.sessionsKey()).Result()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	return sessions, err
}

func (r *RedisSaver) LoadPlayers() ([]aqua.PlayerSnapshot, error) {
	guildIDs, err := r.client.SMembers(r.ctx, r.playersSetKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]aqua.PlayerSnapshot, 0, len(guildIDs))
	for _, guildID := range guildIDs {
		data, err := r.client.Get(r.ctx, r.playerKey(guildID)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			r.log.Warn().Err(err).Str("guild", guildID).Msg("failed to load persisted player")
			continue
		}
		var rec PersistedPlayer
		if err := json.Unmarshal(data, &rec); err != nil {
			r.log.Warn().Err(err).Str("guild", guildID).Msg("skipping malformed persisted player")
			continue
		}
		out = append(out, fromPersisted(rec))
	}
	return out, nil
}

func (r *RedisSaver) Truncate() error {
	guildIDs, err := r.client.SMembers(r.ctx, r.playersSetKey()).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := r.client.TxPipeline()
	for _, guildID := range guildIDs {
		pipe.Del(r.ctx, r.playerKey(guildID))
	}
	pipe.Del(r.ctx, r.playersSetKey())
	pipe.Del(r.ctx, r.sessionsKey())
	_, err = pipe.Exec(r.ctx)
	return err
}

// Close releases the underlying client, for callers that handed this
// Saver sole ownership of its *redis.Client.
func (r *RedisSaver) Close() error { return r.client.Close() }
