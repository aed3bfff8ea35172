package source

import "strconv"

// MediaType identifies the kind of media a source belongs to.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
	MediaData  MediaType = "data"
)

// OwnerJVB is the owner assigned to sources generated by a bridge rather
// than a participant (e.g. the mixed audio source of a colibri content).
const OwnerJVB = "jvb"

// SSRCNone marks a source that is signalled by rid only.
const SSRCNone int64 = -1

// MaxSSRC is the largest value a 32-bit synchronisation source can take.
const MaxSSRC int64 = 0xFFFFFFFF

// Source parameter names that survive validation. Everything else a peer
// puts on a source is dropped before the source enters conference state.
const (
	ParamCName = "cname"
	ParamMSID  = "msid"
)

// A single RTP stream as advertised in signalling: an SSRC and/or a rid,
// the owner it belongs to and its parameters.
type Source struct {
	// The synchronisation source, or SSRCNone for rid-only sources.
	SSRC int64
	// The rid for rid-based simulcast. Empty unless rid signalling is used.
	Rid string
	// The occupant JID of the advertising participant, or OwnerJVB.
	Owner string
	// Source parameters. Only cname and msid are preserved by validation.
	Params map[string]string
}

// HasSSRC reports whether the source carries an ssrc at all, valid or not.
func (s Source) HasSSRC() bool {
	return s.SSRC != SSRCNone
}

func (s Source) MSID() string {
	return s.Params[ParamMSID]
}

func (s Source) CName() string {
	return s.Params[ParamCName]
}

// SetParam stores a parameter, allocating the parameter map when needed.
func (s *Source) SetParam(name, value string) {
	if s.Params == nil {
		s.Params = make(map[string]string, 2)
	}
	s.Params[name] = value
}

// Copy returns a deep copy of the source.
func (s Source) Copy() Source {
	copied := s
	if s.Params != nil {
		copied.Params = make(map[string]string, len(s.Params))
		for name, value := range s.Params {
			copied.Params[name] = value
		}
	}
	return copied
}

// Identity of a source for deduplication purposes: the ssrc when present,
// the rid otherwise.
func (s Source) key() string {
	if s.HasSSRC() {
		return "ssrc:" + strconv.FormatInt(s.SSRC, 10)
	}
	return "rid:" + s.Rid
}

// SameAs reports whether two sources identify the same stream.
func (s Source) SameAs(other Source) bool {
	return s.key() == other.key()
}

func (s Source) String() string {
	if s.HasSSRC() {
		return "ssrc=" + strconv.FormatInt(s.SSRC, 10)
	}
	return "rid=" + s.Rid
}
