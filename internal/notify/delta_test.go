package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/KaSooMi0228/drop-typescript-sheet-sub012/internal/notify"
)

func TestDelta_OnlyNewlyQualifiedMembers(t *testing.T) {
	oldAudience := notify.NewRecipientSet("alice", "bob")
	newAudience := notify.NewRecipientSet("bob", "carol", "dave")

	delta := notify.Delta(oldAudience, newAudience)

	assert.Equal(t, []notify.RecipientID{"carol", "dave"}, delta.Members())
}

func TestDelta_UnchangedAudienceIsEmpty(t *testing.T) {
	// 受众持续持有资格时不重复提醒
	audience := notify.NewRecipientSet("alice", "bob")

	delta := notify.Delta(audience, audience)

	assert.True(t, delta.Empty())
}

func TestDelta_LostQualificationProducesNothing(t *testing.T) {
	// 资格丢失不产生任何通知
	oldAudience := notify.NewRecipientSet("alice", "bob")
	newAudience := notify.NewRecipientSet("alice")

	delta := notify.Delta(oldAudience, newAudience)

	assert.True(t, delta.Empty())
}

func TestDelta_EmptyOldSideYieldsWholeNewAudience(t *testing.T) {
	newAudience := notify.NewRecipientSet("alice", "bob")

	delta := notify.Delta(notify.NewRecipientSet(), newAudience)

	assert.Equal(t, 2, delta.Len())
	assert.True(t, delta.Has("alice"))
	assert.True(t, delta.Has("bob"))
}
