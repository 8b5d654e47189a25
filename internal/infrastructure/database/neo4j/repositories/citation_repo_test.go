package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type CitationRepoTestSuite struct {
	suite.Suite
	driver *MockInfraDriver
	tx     *MockInfraTransaction
	repo   *CitationRepo
}

func (s *CitationRepoTestSuite) SetupTest() {
	s.driver, s.tx = newMockDriver()
	s.repo = NewCitationRepo(s.driver, nil)
}

func cypherContains(fragment string) interface{} {
	return mock.MatchedBy(func(q string) bool { return strings.Contains(q, fragment) })
}

func (s *CitationRepoTestSuite) TestRecordCitations_ReplacesEdges() {
	var added map[string]any
	s.tx.On("Run", mock.Anything, cypherContains("DELETE old"), mock.Anything).Return(new(MockResult), nil).Once()
	s.tx.On("Run", mock.Anything, cypherContains("UNWIND $cited"), mock.Anything).
		Run(func(args mock.Arguments) { added = args.Get(2).(map[string]any) }).
		Return(new(MockResult), nil).Once()

	err := s.repo.RecordCitations(context.Background(), "O/0003/24",
		[]string{"O/0001/24", " O/0001/24 ", "", "O/0003/24", "O/0002/24"})
	s.Require().NoError(err)

	s.Equal("O/0003/24", added["ref"])
	s.Equal([]string{"O/0001/24", "O/0002/24"}, added["cited"])
	s.tx.AssertExpectations(s.T())
	s.driver.AssertNumberOfCalls(s.T(), "ExecuteWrite", 1)
}

func (s *CitationRepoTestSuite) TestRecordCitations_NoTargetsOnlyResets() {
	s.tx.On("Run", mock.Anything, cypherContains("DELETE old"), mock.Anything).Return(new(MockResult), nil).Once()

	s.Require().NoError(s.repo.RecordCitations(context.Background(), "O/0003/24", nil))
	s.tx.AssertNumberOfCalls(s.T(), "Run", 1)
}

func (s *CitationRepoTestSuite) TestRecordCitations_Error() {
	boom := errors.New("boom")
	s.tx.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)

	err := s.repo.RecordCitations(context.Background(), "O/0003/24", []string{"O/0001/24"})
	s.ErrorIs(err, boom)
}

func (s *CitationRepoTestSuite) TestCitationCounts() {
	res := &MockResult{Records: []*neo4j.Record{
		NewRecord([]string{"ref", "cited_by"}, []any{"O/0001/24", int64(4)}),
	}}
	s.tx.On("Run", mock.Anything, cypherContains("count(DISTINCT src)"), mock.Anything).Return(res, nil)

	counts, err := s.repo.CitationCounts(context.Background(), []string{"O/0001/24", "O/0002/24"})
	s.Require().NoError(err)
	s.Equal(map[string]int{"O/0001/24": 4, "O/0002/24": 0}, counts)
}

func (s *CitationRepoTestSuite) TestCitationCounts_EmptyInput() {
	counts, err := s.repo.CitationCounts(context.Background(), nil)
	s.Require().NoError(err)
	s.Empty(counts)
	s.driver.AssertNotCalled(s.T(), "ExecuteRead", mock.Anything)
}

func (s *CitationRepoTestSuite) TestMostCited() {
	res := &MockResult{Records: []*neo4j.Record{
		NewRecord([]string{"ref", "cited_by"}, []any{"O/0001/24", int64(7)}),
		NewRecord([]string{"ref", "cited_by"}, []any{"O/0009/23", int64(2)}),
	}}
	var params map[string]any
	s.tx.On("Run", mock.Anything, cypherContains("LIMIT $limit"), mock.Anything).
		Run(func(args mock.Arguments) { params = args.Get(2).(map[string]any) }).
		Return(res, nil)

	top, err := s.repo.MostCited(context.Background(), 0)
	s.Require().NoError(err)
	s.Equal(int64(10), params["limit"])
	s.Equal([]CitedCase{{"O/0001/24", 7}, {"O/0009/23", 2}}, top)
}

func (s *CitationRepoTestSuite) TestCitedBy() {
	res := &MockResult{Records: []*neo4j.Record{
		NewRecord([]string{"ref"}, []any{"O/0004/24"}),
	}}
	s.tx.On("Run", mock.Anything, cypherContains("src.reference AS ref"), mock.Anything).Return(res, nil)

	refs, err := s.repo.CitedBy(context.Background(), "O/0001/24")
	s.Require().NoError(err)
	s.Equal([]string{"O/0004/24"}, refs)
}

func TestCitationRepoTestSuite(t *testing.T) {
	suite.Run(t, new(CitationRepoTestSuite))
}

func TestNormalizeRefs(t *testing.T) {
	got := normalizeRefs("A", []string{"B", "A", "B", "  ", "C"})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"B", "C"}, got)
}
