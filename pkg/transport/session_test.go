package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionTracker_DuplicateConnectionsShareOneSession(t *testing.T) {
	tr := NewSessionTracker()

	id1, new1 := tr.Acquire("1.2.3.4", "sales_prod")
	id2, new2 := tr.Acquire("1.2.3.4", "sales_prod")
	id3, new3 := tr.Acquire("1.2.3.4", "sales_prod")

	assert.True(t, new1)
	assert.False(t, new2)
	assert.False(t, new3)
	assert.Equal(t, id1, id2)
	assert.Equal(t, id1, id3)
	assert.Equal(t, 1, tr.Len())
}

func TestSessionTracker_DifferentDestinationsGetDifferentSessions(t *testing.T) {
	tr := NewSessionTracker()

	id1, _ := tr.Acquire("1.2.3.4", "sales_prod")
	id2, _ := tr.Acquire("1.2.3.4", "warehouse")

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, tr.Len())
}

func TestSessionTracker_DifferentClientsGetDifferentSessions(t *testing.T) {
	tr := NewSessionTracker()

	id1, _ := tr.Acquire("1.2.3.4", "sales_prod")
	id2, _ := tr.Acquire("5.6.7.8", "sales_prod")

	assert.NotEqual(t, id1, id2)
}

func TestSessionTracker_ReleaseOnlyEndsOnLastReference(t *testing.T) {
	tr := NewSessionTracker()

	tr.Acquire("1.2.3.4", "sales_prod")
	tr.Acquire("1.2.3.4", "sales_prod")

	_, last1 := tr.Release("1.2.3.4", "sales_prod")
	assert.False(t, last1)
	assert.Equal(t, 1, tr.Len())

	id, last2 := tr.Release("1.2.3.4", "sales_prod")
	assert.True(t, last2)
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, tr.Len())
}

func TestSessionTracker_ReleaseUntrackedKeyIsNoOp(t *testing.T) {
	tr := NewSessionTracker()

	id, last := tr.Release("9.9.9.9", "ghost")
	assert.Empty(t, id)
	assert.False(t, last)
}

func TestSessionTracker_ReacquireAfterFullReleaseCreatesNewSession(t *testing.T) {
	tr := NewSessionTracker()

	id1, _ := tr.Acquire("1.2.3.4", "sales_prod")
	tr.Release("1.2.3.4", "sales_prod")

	id2, isNew := tr.Acquire("1.2.3.4", "sales_prod")
	assert.True(t, isNew)
	assert.NotEqual(t, id1, id2)
}
