package usecase

import (
	"testing"
	"time"

	"SignalHub/internal/domain/models"
	"SignalHub/internal/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHealth []models.DestinationHealth

func (s stubHealth) Health() []models.DestinationHealth { return s }

type stubBroadcaster struct {
	recordingPublisher
	drops []hub.DropSummary
}

func (b *stubBroadcaster) DropReport() []hub.DropSummary { return b.drops }

func TestHeartbeatStatuses(t *testing.T) {
	health := stubHealth{
		{Destination: models.DestinationDiscord, Address: "chan", LastStatus: models.DeliverySent, Sent: 3},
		{Destination: models.DestinationMT45, Address: "ea-1", LastStatus: models.DeliveryFailed, Failed: 1, LastError: "mt45 retryable delivery error (rate_limited): wait"},
		{Destination: models.DestinationTelegram, Address: "-100", LastStatus: models.DeliveryFailed, Failed: 2, LastError: "telegram terminal delivery error (http_403): forbidden"},
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHeartbeat(&stubBroadcaster{}, health, WithHubName("signalhub", func() int { return 4 }))
	h.started = start

	got := h.Statuses(start.Add(90 * time.Second))
	require.Len(t, got, 4)

	assert.Equal(t, "signalhub", got[0].BotName)
	assert.Equal(t, models.BotActive, got[0].Status)
	assert.Equal(t, 4, got[0].Metadata["subscribers"])
	assert.Equal(t, int64(90), got[0].Metadata["uptimeSeconds"])

	assert.Equal(t, models.BotActive, got[1].Status)
	assert.Equal(t, models.BotLimited, got[2].Status)
	assert.Equal(t, models.BotError, got[3].Status)
	assert.Equal(t, "telegram terminal delivery error (http_403): forbidden", got[3].Metadata["lastError"])
	for _, st := range got {
		require.NoError(t, st.Validate())
	}
}

func TestHeartbeatBeatPublishesEveryStatus(t *testing.T) {
	b := &stubBroadcaster{drops: []hub.DropSummary{{SubscriberID: "s1", Dropped: 5, Total: 9}}}
	h := NewHeartbeat(b, stubHealth{{Destination: models.DestinationTelegram}})

	h.Beat()

	require.Equal(t, []models.Kind{models.KindBotHeartbeat}, b.kinds())
	st, ok := b.envs[0].Heartbeat()
	require.True(t, ok)
	assert.Equal(t, "telegram", st.BotName)
	assert.Equal(t, models.BotActive, st.Status)
}

func TestHeartbeatRejectsBadSchedule(t *testing.T) {
	h := NewHeartbeat(&stubBroadcaster{}, stubHealth{}, WithSchedule("every now and then"))
	assert.Error(t, h.Start())
}

func TestHeartbeatStartStop(t *testing.T) {
	b := &stubBroadcaster{}
	h := NewHeartbeat(b, stubHealth{{Destination: models.DestinationDiscord}}, WithSchedule("@every 1h"))
	require.NoError(t, h.Start())
	h.Stop()
	assert.Len(t, b.kinds(), 1)
}
