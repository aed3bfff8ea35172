package source

import "strings"

// Lip-sync rewriting. Receivers synchronise audio and video only when both
// tracks belong to the same media stream, so for participants that support
// it the outgoing source list is rewritten per owner: the audio source
// adopts the stream id of the owner's video source. The transformation is
// pure; conference state is never modified.

// MergeVideoIntoAudio returns a copy of the given sources in which, for
// every participant-owned stream pair, the audio msid carries the video
// stream id. The merge is skipped for an owner when it does not advertise
// exactly one msid-bearing audio source, when it has no msid-bearing video
// source, or when the sources are bridge-owned.
func MergeVideoIntoAudio(sources *MediaSourceMap) *MediaSourceMap {
	merged := sources.CopyDeep()

	audio := merged.sources[MediaAudio]
	for owner, audioIdx := range singleAudioPerOwner(audio) {
		video := findVideoMSID(merged, owner)
		if video == "" {
			continue
		}
		audio[audioIdx].SetParam(ParamMSID, mergedMSID(audio[audioIdx].MSID(), video))
	}

	return merged
}

// RewriteSourceAdd prepares a source-add notification for a lip-sync capable
// receiver. When the notification carries only video for some owner, the
// owner's audio source is synthesised from conference-wide state first, so
// that the merge can still take place.
func RewriteSourceAdd(notification, conference *MediaSourceMap) *MediaSourceMap {
	withAudio := notification.CopyDeep()

	for _, v := range notification.SourcesForMedia(MediaVideo) {
		owner := v.Owner
		if owner == "" || owner == OwnerJVB || v.MSID() == "" {
			continue
		}
		if hasAudioForOwner(withAudio, owner) {
			continue
		}
		if a := conference.FindSSRCForOwner(MediaAudio, owner); a != nil && a.MSID() != "" {
			withAudio.AddSource(MediaAudio, a.Copy())
		}
	}

	return MergeVideoIntoAudio(withAudio)
}

func hasAudioForOwner(m *MediaSourceMap, owner string) bool {
	for _, s := range m.SourcesForMedia(MediaAudio) {
		if s.Owner == owner {
			return true
		}
	}
	return false
}

// singleAudioPerOwner maps each owner with exactly one msid-bearing audio
// source to the index of that source.
func singleAudioPerOwner(audio []Source) map[string]int {
	indices := make(map[string]int)
	counts := make(map[string]int)
	for i, s := range audio {
		if s.Owner == "" || s.Owner == OwnerJVB || s.MSID() == "" {
			continue
		}
		counts[s.Owner]++
		indices[s.Owner] = i
	}
	for owner, n := range counts {
		if n != 1 {
			delete(indices, owner)
		}
	}
	return indices
}

// findVideoMSID returns the msid of the owner's first msid-bearing video
// source.
func findVideoMSID(m *MediaSourceMap, owner string) string {
	for _, s := range m.SourcesForMedia(MediaVideo) {
		if s.Owner == owner && s.MSID() != "" {
			return s.MSID()
		}
	}
	return ""
}

// mergedMSID combines the stream part of the video msid with the track part
// of the audio msid. An msid is "<stream> <track>"; a missing track part
// falls back to the bare stream id.
func mergedMSID(audioMSID, videoMSID string) string {
	videoStream, _, _ := strings.Cut(videoMSID, " ")
	_, audioTrack, hasTrack := strings.Cut(audioMSID, " ")
	if !hasTrack || audioTrack == "" {
		return videoStream
	}
	return videoStream + " " + audioTrack
}
