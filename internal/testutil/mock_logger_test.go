package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("case ingested", logging.String("case", "O/0001/24"))

	messages := logger.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "case ingested", messages[0].Message)

	logger.Clear()
	assert.Empty(t, logger.GetMessages())

	logger.Error("broker down")
	assert.True(t, logger.HasMessage("error", "broker down"))
	assert.False(t, logger.HasMessage("info", "case ingested"))
}

func TestMockLogger_ChildrenShareSink(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.Named("worker").With(logging.String("topic", "minio.object-created")).Named("handler")

	child.Warn("publish failed", logging.Int("attempt", 2))

	messages := root.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "worker.handler", messages[0].Logger)
	assert.Len(t, messages[0].Fields, 2)
	assert.True(t, root.HasMessage("warn", "publish failed"))
}
