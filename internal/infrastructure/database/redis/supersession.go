package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// Supersession keeps one generation counter per case. Begin increments it
// atomically, so exactly one run of a case is current at any time, across
// every worker sharing the Redis.
type Supersession struct {
	client *Client
}

var _ ingestion.Supersession = (*Supersession)(nil)

func NewSupersession(client *Client) *Supersession {
	return &Supersession{client: client}
}

func (s *Supersession) genKey(caseRef string) string {
	return s.client.key("ingest", "gen", caseRef)
}

func (s *Supersession) Begin(ctx context.Context, caseRef string) (ingestion.Token, error) {
	rdb, err := s.client.rdbOrErr()
	if err != nil {
		return nil, err
	}
	gen, err := rdb.Incr(ctx, s.genKey(caseRef)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "begin ingestion generation")
	}
	return &generationToken{s: s, caseRef: caseRef, gen: gen}, nil
}

// Generation returns the latest generation of caseRef, 0 if none began.
func (s *Supersession) Generation(ctx context.Context, caseRef string) (int64, error) {
	rdb, err := s.client.rdbOrErr()
	if err != nil {
		return 0, err
	}
	raw, err := rdb.Get(ctx, s.genKey(caseRef)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeCacheError, "read ingestion generation")
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeCacheError, "corrupt ingestion generation")
	}
	return gen, nil
}

type generationToken struct {
	s       *Supersession
	caseRef string
	gen     int64
}

func (t *generationToken) Generation() int64 { return t.gen }

func (t *generationToken) Current(ctx context.Context) (bool, error) {
	latest, err := t.s.Generation(ctx, t.caseRef)
	if err != nil {
		return false, err
	}
	return latest == t.gen, nil
}
