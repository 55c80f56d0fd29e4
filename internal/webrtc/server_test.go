package webrtc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcity/ai-sentinel/internal/metrics"
)

func TestHandleOfferRejectsGarbage(t *testing.T) {
	s := NewServer(Config{}, nil)
	_, err := s.HandleOffer([]byte("not json"))
	assert.ErrorContains(t, err, "failed to parse offer")
}

func TestBroadcastWithoutClients(t *testing.T) {
	s := NewServer(Config{}, nil)
	assert.NotPanics(t, func() { s.Broadcast([]byte(`{"type":"status"}`)) })
	assert.Zero(t, s.GetClientCount())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

// newBrowser builds a client peer with an events channel and returns its
// gathered offer.
func newBrowser(t *testing.T) (*webrtc.PeerConnection, *webrtc.DataChannel, []byte) {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	dc, err := pc.CreateDataChannel(EventsLabel, nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gathered

	data, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return pc, dc, data
}

func TestEventsReachBrowser(t *testing.T) {
	m := metrics.New()
	s := NewServer(Config{MaxClients: 1, IncludeLoopback: true, GatherTimeout: 2 * time.Second}, m)
	defer s.Close()

	pc, dc, offer := newBrowser(t)

	received := make(chan string, 4)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { received <- string(msg.Data) })
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	answerJSON, err := s.HandleOffer(offer)
	require.NoError(t, err)
	assert.Equal(t, 1, s.GetClientCount())
	assert.Equal(t, int64(1), m.WebRTCClients.Load())

	var answer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(answerJSON, &answer))
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, pc.SetRemoteDescription(answer))

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Skip("no loopback ICE connectivity in this environment")
	}

	// the server side marks the channel open asynchronously
	require.Eventually(t, func() bool {
		s.Broadcast([]byte(`{"type":"confirmation","count":3}`))
		select {
		case msg := <-received:
			return assert.JSONEq(t, `{"type":"confirmation","count":3}`, msg)
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	// second client is over the limit
	_, _, offer2 := newBrowser(t)
	_, err = s.HandleOffer(offer2)
	assert.ErrorContains(t, err, "maximum clients")

	require.NoError(t, s.Close())
	assert.Zero(t, s.GetClientCount())
	assert.Equal(t, int64(0), m.WebRTCClients.Load())
}
