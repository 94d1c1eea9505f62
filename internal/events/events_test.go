package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "autopilot.drafts.created", Subject("autopilot", DraftCreated))
	assert.Equal(t, "posts.published", Subject("", PostPublished))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), DraftCreated, map[string]string{"id": "d1"}))
	require.NoError(t, r.Publish(context.Background(), DraftPublished, nil))
	assert.Equal(t, []string{DraftCreated, DraftPublished}, r.Subjects())
	assert.NoError(t, r.Close())
}

func TestNop(t *testing.T) {
	var b Bus = Nop{}
	assert.NoError(t, b.Publish(context.Background(), DraftFailed, struct{}{}))
	assert.NoError(t, b.Close())
}
