package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/LeafSight/pkg/errors"
)

var (
	ErrJobClaimed   = errors.New(errors.ErrCodeConflict, "job already claimed")
	ErrClaimNotHeld = errors.New(errors.ErrCodeConflict, "claim not held by this owner")
)

// releaseScript deletes the claim only when it still belongs to the caller.
const releaseScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// Claim is an ownership token for one job.
type Claim struct {
	Key   string
	Owner string
}

// JobGuard deduplicates redelivered worker jobs with SET NX claims.
type JobGuard struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewJobGuard returns a guard whose claims expire after ttl, so a crashed
// worker does not block a job forever.
func NewJobGuard(client *Client, prefix string, ttl time.Duration) *JobGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &JobGuard{client: client, prefix: prefix, ttl: ttl}
}

// Acquire claims jobID.  It returns ErrJobClaimed when another worker holds
// the claim.
func (g *JobGuard) Acquire(ctx context.Context, jobID string) (*Claim, error) {
	cmd, err := g.client.commands()
	if err != nil {
		return nil, err
	}
	claim := &Claim{Key: g.prefix + "job:" + jobID, Owner: uuid.NewString()}
	ok, err := cmd.SetNX(ctx, claim.Key, claim.Owner, g.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to claim job")
	}
	if !ok {
		return nil, ErrJobClaimed
	}
	return claim, nil
}

// Release drops a claim held by this owner.
func (g *JobGuard) Release(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	cmd, err := g.client.commands()
	if err != nil {
		return err
	}
	n, err := cmd.Eval(ctx, releaseScript, []string{claim.Key}, claim.Owner).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release job claim")
	}
	if n == 0 {
		return ErrClaimNotHeld
	}
	return nil
}
