package demux

import (
	"discplay/pkg/media"
	"discplay/pkg/packetq"
)

// extraVideoThreshold is the video backlog beyond which a pass plays a second
// video packet when audio has run dry.
const extraVideoThreshold = 2

// scheduler decides the order queued packets are played in. Video packets are
// spread evenly among the more numerous audio packets: every pass plays
// audio, video, audio, and when that second audio is missing but video is
// backing up, one extra video.
type scheduler struct {
	audio *packetq.Queue[*media.Packet]
	video *packetq.Queue[*media.Packet]

	playAudio func(*media.Packet)
	playVideo func(*media.Packet)
}

func newScheduler(queueSize int, playAudio, playVideo func(*media.Packet)) *scheduler {
	return &scheduler{
		audio:     packetq.New[*media.Packet](queueSize),
		video:     packetq.New[*media.Packet](2 * queueSize),
		playAudio: playAudio,
		playVideo: playVideo,
	}
}

func (s *scheduler) next(q *packetq.Queue[*media.Packet], play func(*media.Packet)) bool {
	pkt, ok := q.Dequeue()
	if !ok {
		return false
	}
	play(pkt)
	return true
}

// interleave runs passes until either queue is empty. It always plays at
// least one packet when either queue holds one.
func (s *scheduler) interleave() {
	for {
		s.next(s.audio, s.playAudio)
		s.next(s.video, s.playVideo)
		if !s.next(s.audio, s.playAudio) && s.video.Len() > extraVideoThreshold {
			s.next(s.video, s.playVideo)
		}
		if s.audio.Empty() || s.video.Empty() {
			return
		}
	}
}

// drainAll plays everything left, interleaved while both queues have packets.
func (s *scheduler) drainAll() {
	if !s.audio.Empty() && !s.video.Empty() {
		s.interleave()
	}
	for s.next(s.audio, s.playAudio) {
	}
	for s.next(s.video, s.playVideo) {
	}
}

// admit queues pkt, draining first if either queue is full so there is always
// room.
func (s *scheduler) admit(pkt *media.Packet, q *packetq.Queue[*media.Packet]) {
	if s.audio.Full() || s.video.Full() {
		s.interleave()
	}
	if q.Enqueue(pkt) {
		return
	}
	// Only reachable when the other queue was already empty and this one is
	// still full; play directly rather than drop.
	if q == s.audio {
		s.playAudio(pkt)
	} else {
		s.playVideo(pkt)
	}
}

// flush releases every queued packet without playing it.
func (s *scheduler) flush() int {
	return s.audio.Flush() + s.video.Flush()
}
