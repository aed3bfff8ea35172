package conference

// Config carries the per-conference options of the focus.
type Config struct {
	// At most this many sources per participant and media type.
	MaxSourcesPerUser int `yaml:"max-sources-per-user"`
	// Merge each owner's video into its audio stream for receivers that
	// support it.
	EnableLipSync bool `yaml:"enable-lip-sync"`
	// Offer an SCTP data content to endpoints that support it.
	OpenSctp bool `yaml:"open-sctp"`
	// Transport-wide congestion control.
	EnableTcc bool `yaml:"enable-tcc"`
	// Receiver estimated max bitrate.
	EnableRemb bool `yaml:"enable-remb"`
	// Opus redundancy.
	EnableOpusRed bool `yaml:"enable-opus-red"`
	// RTX retransmissions for endpoints that support them.
	EnableRtx bool `yaml:"enable-rtx"`
	// Stereo audio in the offer.
	Stereo bool `yaml:"stereo"`
	// Bitrate hints in kbps. Zero disables the hint.
	StartBitrateKbps int `yaml:"start-bitrate-kbps"`
	MinBitrateKbps   int `yaml:"min-bitrate-kbps"`
	// Invite participants with audio/video initially muted.
	StartAudioMuted bool `yaml:"start-audio-muted"`
	StartVideoMuted bool `yaml:"start-video-muted"`
	// Focus version advertised with the room presence.
	Version string `yaml:"version"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSourcesPerUser: 20,
		EnableLipSync:     false,
		OpenSctp:          true,
		EnableTcc:         true,
		EnableRemb:        false,
		EnableOpusRed:     false,
		EnableRtx:         true,
		StartBitrateKbps:  800,
	}
}
