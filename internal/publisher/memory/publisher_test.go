package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsJSON(t *testing.T) {
	p := New()

	id, err := p.Publish(context.Background(), map[string]string{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)

	id, err = p.Publish(context.Background(), map[string]string{"url": "https://example.com/2"})
	require.NoError(t, err)
	assert.Equal(t, "mem-2", id)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(msgs[0]))
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	p := New()
	_, err := p.Publish(context.Background(), make(chan int))
	assert.Error(t, err)
	assert.Empty(t, p.Messages())
}
