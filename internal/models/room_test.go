package models_test

import (
	"testing"

	"github.com/rmehta12/prepbattle/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRoomStatusRankIsForwardOnly(t *testing.T) {
	assert.Less(t, models.RoomStatus("BOGUS").Rank(), models.RoomStatusWaiting.Rank())
	assert.Less(t, models.RoomStatusWaiting.Rank(), models.RoomStatusInProgress.Rank())
	assert.Less(t, models.RoomStatusInProgress.Rank(), models.RoomStatusCompleted.Rank())
}
