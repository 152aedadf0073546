// Package webrtc relays the camera's RTP stream to one browser.
package webrtc

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"gimbal-tracker/internal/monitoring"
)

var errNoTrack = errors.New("webrtc: no video track")

// Session represents a WebRTC session with a client
type Session struct {
	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticRTP
	onICE      func(candidate *webrtc.ICECandidate)
	mu         sync.Mutex
	closed     bool
}

// Config for WebRTC session
type Config struct {
	ICEServers []string // STUN/TURN server URLs
	// PublicIPs switches to ICE-lite, advertising only these host
	// addresses. ICEServers are ignored then.
	PublicIPs []string
}

// DefaultConfig returns a default WebRTC configuration
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

// ParseIPs splits a comma-separated address list, dropping blanks.
func ParseIPs(list string) []string {
	var ips []string
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

// NewSession creates a new WebRTC session
func NewSession(cfg Config, onICE func(*webrtc.ICECandidate)) (*Session, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	var settings webrtc.SettingEngine
	config := webrtc.Configuration{}
	if len(cfg.PublicIPs) > 0 {
		settings.SetLite(true)
		settings.SetNAT1To1IPs(cfg.PublicIPs, webrtc.ICECandidateTypeHost)
	} else {
		for _, url := range cfg.ICEServers {
			config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
				URLs: []string{url},
			})
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(media), webrtc.WithSettingEngine(settings))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &Session{
		pc:    pc,
		onICE: onICE,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && session.onICE != nil {
			session.onICE(c)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		monitoring.Logf("WebRTC: Connection state %s", s)
	})

	return session, nil
}

// AddH264Track adds an H264 video track to the session
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video",
		"gimbal-camera",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	sender, err := s.pc.AddTrack(videoTrack)
	if err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}
	// RTCP must be read for the sender's interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	s.videoTrack = videoTrack
	return nil
}

// CreateOffer creates an SDP offer once ICE gathering has completed.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	err = s.pc.SetLocalDescription(offer)
	if err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}

	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// WriteRTP forwards one marshalled RTP packet to the video track.
func (s *Session) WriteRTP(packet []byte) error {
	s.mu.Lock()
	track := s.videoTrack
	s.mu.Unlock()

	if track == nil {
		return errNoTrack
	}
	_, err := track.Write(packet)
	return err
}

// Close closes the WebRTC session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.pc != nil {
		return s.pc.Close()
	}
	return nil
}
