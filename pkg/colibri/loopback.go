package colibri

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/jitsi/jicofo-go/pkg/source"
	"github.com/jitsi/jicofo-go/pkg/xmpp"
)

// LoopbackFactory hands out colibri conferences that allocate fake channel
// bundles, mirroring what a bridge would return. Used when the focus runs
// without a real bridge-control connection and by tests.
type LoopbackFactory struct {
	nextID atomic.Int64
}

func NewLoopbackFactory() *LoopbackFactory {
	return &LoopbackFactory{}
}

func (f *LoopbackFactory) NewConference(bridgeJID, roomName string) Conference {
	return &loopbackConference{factory: f, bridgeJID: bridgeJID}
}

type loopbackConference struct {
	factory   *LoopbackFactory
	bridgeJID string

	mutex    sync.Mutex
	disposed bool
}

func (c *loopbackConference) CreateChannels(endpointID, statsID string, initiator bool, contents []xmpp.Content) (*Channels, error) {
	channels := &Channels{
		ID:         "loopback-" + strconv.FormatInt(c.factory.nextID.Add(1), 10),
		Transports: make(map[string]*xmpp.Transport, len(contents)),
	}
	for _, content := range contents {
		channels.Transports[content.Name] = &xmpp.Transport{RTCPMux: true}
		if content.Media == source.MediaData {
			channels.Sctp = &xmpp.SctpMap{Port: 5000, Streams: 1024}
		}
	}
	return channels, nil
}

func (c *loopbackConference) UpdateChannels(channels *Channels, contents []xmpp.Content, sources *source.MediaSourceMap, groups *source.MediaSourceGroupMap) error {
	return nil
}

func (c *loopbackConference) ExpireChannels(channels *Channels) {}

func (c *loopbackConference) Expire() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.disposed = true
}

func (c *loopbackConference) IsDisposed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.disposed
}
