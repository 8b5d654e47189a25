package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	pkgerrors "github.com/turtacn/Opposition-Intelligence/pkg/errors"
	"github.com/turtacn/Opposition-Intelligence/pkg/types/trademark"
)

type CacheTestSuite struct {
	suite.Suite
	mock  redismock.ClientMock
	cache *EmbeddingCache
}

func (s *CacheTestSuite) SetupTest() {
	db, mock := redismock.NewClientMock()
	s.mock = mock
	s.cache = NewEmbeddingCache(newClientFromRDB(db, "test:", nil), 0)
}

func (s *CacheTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
}

func (s *CacheTestSuite) TestGet_CacheHit() {
	s.mock.ExpectGet("test:emb:abc").SetVal(`[0.5,-0.25]`)

	vec, ok, err := s.cache.Get(context.Background(), "abc")
	s.NoError(err)
	s.True(ok)
	s.Equal(trademark.EmbeddingVector{0.5, -0.25}, vec)
}

func (s *CacheTestSuite) TestGet_CacheMiss() {
	s.mock.ExpectGet("test:emb:abc").RedisNil()

	vec, ok, err := s.cache.Get(context.Background(), "abc")
	s.NoError(err)
	s.False(ok)
	s.Nil(vec)
}

func (s *CacheTestSuite) TestGet_Corrupt() {
	s.mock.ExpectGet("test:emb:abc").SetVal(`not-json`)

	_, _, err := s.cache.Get(context.Background(), "abc")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestGet_Error() {
	s.mock.ExpectGet("test:emb:abc").SetErr(errors.New("conn reset"))

	_, _, err := s.cache.Get(context.Background(), "abc")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestEmbeddingCache_SetRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	cache := NewEmbeddingCache(client, 0)
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "k", trademark.EmbeddingVector{1, 2, 3}))
	ttl := mr.TTL("oppo:emb:k")
	assert.InDelta(t, float64(cache.ttl), float64(ttl), float64(cache.ttl)/10+1)

	vec, ok, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, trademark.EmbeddingVector{1, 2, 3}, vec)
}
