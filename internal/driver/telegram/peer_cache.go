package telegram

import (
	"fmt"
	"strconv"

	"github.com/gotd/td/constant"
	"github.com/gotd/td/tg"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultPeerCacheSize bounds how many users and chats the cache remembers.
const DefaultPeerCacheSize = 50_000

// PeerCache stores Telegram input peers discovered from inbound updates.
//
// Outbound dispatch uses it to turn Bot API style conversation and user ids
// back into input peers carrying access hashes. Users and chats share one key
// space because Bot API ids never collide across peer kinds.
type PeerCache struct {
	peers *lru.Cache[string, tg.InputPeerClass]
}

// NewPeerCache creates a bounded, concurrency-safe Telegram peer cache.
func NewPeerCache(size int) (*PeerCache, error) {
	if size <= 0 {
		size = DefaultPeerCacheSize
	}
	peers, err := lru.New[string, tg.InputPeerClass](size)
	if err != nil {
		return nil, fmt.Errorf("new peer cache: %w", err)
	}

	return &PeerCache{peers: peers}, nil
}

// RememberEnvelope ingests entity data attached to one gotd update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	for userID, user := range envelope.usersByID {
		if user == nil {
			continue
		}
		c.Remember(strconv.FormatInt(userID, 10), user.AsInputPeer())
	}
	for _, chat := range envelope.chatsByID {
		c.Remember(chat.id, chat.inputPeer)
	}
}

// Remember stores one id-to-peer mapping.
func (c *PeerCache) Remember(id string, peer tg.InputPeerClass) {
	if c == nil || peer == nil || id == "" {
		return
	}
	c.peers.Add(id, cloneInputPeer(peer))
}

// Len returns how many peers are cached.
func (c *PeerCache) Len() int {
	return c.peers.Len()
}

// Resolve returns the input peer for a Bot API style id.
//
// Basic groups need no access hash, so they resolve even when never observed.
func (c *PeerCache) Resolve(id string) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if id == "" {
		return nil, fmt.Errorf("resolve peer: empty id")
	}

	if peer, ok := c.peers.Get(id); ok {
		return cloneInputPeer(peer), nil
	}

	raw, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %s: %w", id, err)
	}
	if peerID := constant.TDLibPeerID(raw); peerID.IsChat() {
		return &tg.InputPeerChat{ChatID: peerID.ToPlain()}, nil
	}

	return nil, fmt.Errorf("resolve peer %s: not observed yet", id)
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChat:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerChannel:
		copyPeer := *typed
		return &copyPeer
	case *tg.InputPeerSelf:
		copyPeer := *typed
		return &copyPeer
	default:
		return peer
	}
}
