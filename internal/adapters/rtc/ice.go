package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

var iceSchemes = []string{"stun:", "stuns:", "turn:", "turns:"}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// ConfigFromURLs builds the ICE configuration handed to browsers.
// An empty list yields DefaultWebRTCConfig.
func ConfigFromURLs(urls []string) (webrtc.Configuration, error) {
	if len(urls) == 0 {
		return DefaultWebRTCConfig(), nil
	}
	cfg := webrtc.Configuration{}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if !validScheme(u) {
			return webrtc.Configuration{}, fmt.Errorf("ice server %q: unsupported scheme", u)
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}
	return cfg, nil
}

func validScheme(u string) bool {
	for _, s := range iceSchemes {
		if strings.HasPrefix(u, s) && len(u) > len(s) {
			return true
		}
	}
	return false
}
