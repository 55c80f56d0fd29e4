// Package webrtc pushes status and confirmation events to browsers over a
// WebRTC data channel.
package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/clearcity/ai-sentinel/internal/logger"
	"github.com/clearcity/ai-sentinel/internal/metrics"
)

// EventsLabel is the data channel label clients must create.
const EventsLabel = "events"

// Config controls the signalling server.
type Config struct {
	STUNServers     []string
	MaxClients      int
	GatherTimeout   time.Duration
	IncludeLoopback bool
}

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	events    chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	channel *webrtc.DataChannel
	open    bool
	sent    uint64
	dropped uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	gather     time.Duration
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(cfg Config, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
	for _, url := range cfg.STUNServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 5 * time.Second
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingsEngine.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: cfg.MaxClients,
		gather:     cfg.GatherTimeout,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer is
// expected to carry a data channel labelled EventsLabel.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        generateClientID(),
		peerConn:  peerConn,
		events:    make(chan []byte, 16),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != EventsLabel {
			logger.Debug("WebRTC", "Client %s opened unknown channel %q, ignoring", client.id, dc.Label())
			return
		}
		client.mu.Lock()
		client.channel = dc
		client.mu.Unlock()

		dc.OnOpen(func() {
			client.mu.Lock()
			client.open = true
			client.mu.Unlock()
			logger.Info("WebRTC", "Client %s events channel open", client.id)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			logger.Debug("WebRTC", "Client %s sent %d bytes", client.id, len(msg.Data))
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("WebRTC", "Client %s ICE state: %s", client.id, state.String())
		if state == webrtc.ICEConnectionStateFailed ||
			state == webrtc.ICEConnectionStateClosed {
			s.RemoveClient(client.id)
		}
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
		logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)
	case <-time.After(s.gather):
		logger.Warn("WebRTC", "ICE gathering timed out for client %s, answering with partial candidates", client.id)
	}

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.updateGauge(n)

	go s.sendEvents(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues msg for every client. Slow clients drop messages.
func (s *Server) Broadcast(msg []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.events <- msg:
		default:
			client.mu.Lock()
			client.dropped++
			client.mu.Unlock()
		}
	}
}

// sendEvents drains a client's queue onto its data channel. Messages that
// arrive before the channel opens are dropped.
func (s *Server) sendEvents(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case msg := <-client.events:
			client.mu.Lock()
			dc, open := client.channel, client.open
			client.mu.Unlock()

			if dc == nil || !open {
				client.mu.Lock()
				client.dropped++
				client.mu.Unlock()
				continue
			}
			if err := dc.SendText(string(msg)); err != nil {
				logger.Warn("WebRTC", "Error sending event to client %s: %v", client.id, err)
				s.RemoveClient(client.id)
				return
			}
			client.mu.Lock()
			client.sent++
			client.mu.Unlock()
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.updateGauge(n)
	client.close()

	client.mu.Lock()
	sent, dropped := client.sent, client.dropped
	client.mu.Unlock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		// Close may re-enter RemoveClient through state callbacks.
		go c.peerConn.Close()
	})
}

func (s *Server) updateGauge(n int) {
	if s.metrics != nil {
		s.metrics.WebRTCClients.Store(int64(n))
	}
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"events_sent":    client.sent,
			"events_dropped": client.dropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

func generateClientID() string {
	return "client-" + uuid.NewString()
}
