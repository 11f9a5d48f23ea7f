package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/citybuilder/internal/config"
	"github.com/cory-johannsen/citybuilder/internal/events"
	"github.com/cory-johannsen/citybuilder/internal/testutil"
)

func TestNATSPublisher_DeliversToSubject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	url := testutil.NewNATSContainer(t)

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	inbox, err := sub.SubscribeSync("citybuilder.rooms.>")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := events.Connect(config.EventsConfig{Enabled: true, URL: url, SubjectPrefix: "citybuilder"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	pub.Publish(events.Event{Kind: events.RoomCreated, RoomID: "room_1", CitySize: 16, PlayerID: "p1"})
	pub.Close()

	msg, err := inbox.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "citybuilder.rooms.room_1.room.created", msg.Subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "room.created", got["event"])
	assert.Equal(t, float64(16), got["citySize"])
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := events.Connect(config.EventsConfig{URL: "nats://127.0.0.1:1", SubjectPrefix: "x"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
