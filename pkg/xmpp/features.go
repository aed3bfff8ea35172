package xmpp

import "github.com/thoas/go-funk"

// Feature is a disco#info feature URN advertised by an endpoint or a bridge.
type Feature string

const (
	FeatureAudio    Feature = "urn:xmpp:jingle:apps:rtp:audio"
	FeatureVideo    Feature = "urn:xmpp:jingle:apps:rtp:video"
	FeatureICE      Feature = "urn:xmpp:jingle:transports:ice-udp:1"
	FeatureDTLS     Feature = "urn:xmpp:jingle:apps:dtls:0"
	FeatureBundle   Feature = "http://jitsi.org/protocols/bundle"
	FeatureRTX      Feature = "urn:ietf:rfc:4588"
	FeatureSCTP     Feature = "urn:xmpp:jingle:transports:dtls-sctp:1"
	FeatureLipSync  Feature = "http://jitsi.org/meet/lipsync"
	FeatureHealth   Feature = "http://jitsi.org/protocols/healthcheck"
	FeatureRTCPMux  Feature = "urn:ietf:rfc:5761"
	FeatureDataMuc  Feature = "http://jitsi.org/protocols/colibri"
)

// DefaultFeatures is the set assumed for an endpoint whose discovery
// returned nothing, i.e. a plain audio/video client.
var DefaultFeatures = []Feature{
	FeatureAudio,
	FeatureVideo,
	FeatureICE,
	FeatureDTLS,
	FeatureBundle,
}

// Contains reports whether the feature set carries the given feature.
func Contains(features []Feature, feature Feature) bool {
	return funk.Contains(features, feature)
}
