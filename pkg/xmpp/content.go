package xmpp

import "github.com/jitsi/jicofo-go/pkg/source"

// Transport carries the transport description of one content as returned by
// a channel allocation: ICE candidates, DTLS fingerprint and the mux flags.
type Transport struct {
	Ufrag       string
	Password    string
	Fingerprint string
	Candidates  []string
	RTCPMux     bool
}

// SctpMap describes the SCTP association of a data content.
type SctpMap struct {
	Port    int
	Streams int
}

// Content is one section of a session offer: a media description plus the
// sources and groups advertised in it. The focus builds one content per
// negotiated media type and the session adapter turns it into the wire form.
type Content struct {
	// Content name on the wire; by convention equal to the media type.
	Name  string
	Media source.MediaType

	// Transport and RTP options negotiated for this content.
	UseICE   bool
	UseDTLS  bool
	UseRTX   bool
	UseTCC   bool
	UseREMB  bool
	UseRED   bool
	Stereo   bool
	RTCPMux  bool

	// Bitrate hints in kbps; zero when unset.
	StartBitrate int
	MinBitrate   int

	// Filled from the allocation reply before the offer is sent.
	Transport *Transport
	Sctp      *SctpMap

	Sources []source.Source
	Groups  []source.SourceGroup
}

// FindContent returns the content with the given name, or nil.
func FindContent(contents []Content, name string) *Content {
	for i := range contents {
		if contents[i].Name == name {
			return &contents[i]
		}
	}
	return nil
}

// ExtractSources collects all sources and groups of a content list into
// media source maps, e.g. when processing a session answer.
func ExtractSources(contents []Content) (*source.MediaSourceMap, *source.MediaSourceGroupMap) {
	sources := source.NewMediaSourceMap()
	groups := source.NewMediaSourceGroupMap()
	for _, content := range contents {
		for _, s := range content.Sources {
			sources.AddSource(content.Media, s)
		}
		for _, g := range content.Groups {
			groups.AddGroup(content.Media, g)
		}
	}
	return sources, groups
}
