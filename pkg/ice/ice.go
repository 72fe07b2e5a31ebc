// Package ice builds the WebRTC ICE configuration the relay hands to
// browsers through /api/ice.
package ice

import (
	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/cowatch/pkg/settings"
)

// DefaultServers are the public STUN servers used unless relaying is forced.
var DefaultServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

// Config holds ICE server configuration for the screen-share peer
// connections.
type Config struct {
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// FromSettings picks the TURN and relay options out of s.
func FromSettings(s settings.Settings) Config {
	return Config{
		TURNServer: s.TURNServer,
		TURNUser:   s.TURNUser,
		TURNPass:   s.TURNPass,
		ForceRelay: s.ForceRelay,
	}
}

// Configuration builds the peer connection configuration.
// With ForceRelay the public STUN servers are left out and only TURN is used.
func (c Config) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(DefaultServers)+1)

	if !c.ForceRelay {
		iceServers = append(iceServers, DefaultServers...)
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}
