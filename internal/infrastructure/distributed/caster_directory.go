package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"lancast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Announcement advertises a casting instance to receivers on the LAN.
type Announcement struct {
	InstanceID string              `json:"instance_id"`
	Address    domain.PeerAddress  `json:"address"`
	SessionID  domain.SessionID    `json:"session_id"`
	Viewers    int                 `json:"viewers"`
	Paused     bool                `json:"paused"`
	Source     domain.ScreenSource `json:"source"`
	StartedAt  time.Time           `json:"started_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// CasterDirectory keeps one TTL key per casting instance. An instance that
// dies without withdrawing disappears once its key expires.
type CasterDirectory struct {
	client     redis.UniversalClient
	instanceID string
	ttl        time.Duration
	logger     *zap.SugaredLogger
	prefix     string
}

func NewCasterDirectory(
	client redis.UniversalClient,
	instanceID string,
	ttl time.Duration,
	logger *zap.SugaredLogger,
) *CasterDirectory {
	return &CasterDirectory{
		client:     client,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger.With("component", "caster_directory"),
		prefix:     "lancast:caster:",
	}
}

// Announce publishes (or refreshes) this instance's entry.
func (d *CasterDirectory) Announce(ctx context.Context, a Announcement) error {
	a.InstanceID = d.instanceID
	a.UpdatedAt = time.Now()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.Set(ctx, d.casterKey(d.instanceID), data, d.ttl)
	pipe.SAdd(ctx, d.indexKey(), d.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to announce caster: %w", err)
	}
	return nil
}

// Withdraw removes this instance's entry.
func (d *CasterDirectory) Withdraw(ctx context.Context) error {
	pipe := d.client.TxPipeline()
	pipe.Del(ctx, d.casterKey(d.instanceID))
	pipe.SRem(ctx, d.indexKey(), d.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to withdraw caster: %w", err)
	}
	return nil
}

// List returns every live announcement ordered by address. Index entries
// whose key has expired are pruned.
func (d *CasterDirectory) List(ctx context.Context) ([]Announcement, error) {
	ids, err := d.client.SMembers(ctx, d.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list casters: %w", err)
	}

	out := make([]Announcement, 0, len(ids))
	for _, id := range ids {
		raw, err := d.client.Get(ctx, d.casterKey(id)).Result()
		if errors.Is(err, redis.Nil) {
			d.client.SRem(ctx, d.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get caster %s: %w", id, err)
		}

		var a Announcement
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			d.logger.Warnw("skipping malformed announcement", "instance_id", id, "error", err)
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// Run announces snapshot every interval while it reports an active caster and
// withdraws otherwise. The entry is withdrawn when ctx ends.
func (d *CasterDirectory) Run(ctx context.Context, interval time.Duration, snapshot func() (Announcement, bool)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	announced := false
	tick := func() {
		a, ok := snapshot()
		switch {
		case ok:
			if err := d.Announce(ctx, a); err != nil {
				d.logger.Warnw("announce failed", "error", err)
				return
			}
			if !announced {
				d.logger.Infow("caster announced", "address", a.Address)
			}
			announced = true
		case announced:
			if err := d.Withdraw(ctx); err != nil {
				d.logger.Warnw("withdraw failed", "error", err)
				return
			}
			announced = false
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			if announced {
				wctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := d.Withdraw(wctx); err != nil {
					d.logger.Warnw("withdraw on shutdown failed", "error", err)
				}
				cancel()
			}
			return
		case <-ticker.C:
			tick()
		}
	}
}

func (d *CasterDirectory) casterKey(instanceID string) string {
	return d.prefix + instanceID
}

func (d *CasterDirectory) indexKey() string {
	return "lancast:casters"
}
