// Package directory is a local replica of the network-wide banknode registry.
// It persists entries in LevelDB, relays local announcements and pings
// through a p2p.Broadcaster and applies inbound gossip after re-verifying it.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"bcrnode/core/types"
	"bcrnode/p2p"
)

var (
	ErrUnknownBanknode = errors.New("directory: unknown banknode")
	ErrNoRelay         = errors.New("directory: no relay configured")
)

// Option customises a Directory.
type Option func(*Directory)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithName labels the directory's metrics; it defaults to "local".
func WithName(name string) Option {
	return func(d *Directory) {
		if name != "" {
			d.name = name
		}
	}
}

// Directory implements the banknode directory contract on top of a Store.
type Directory struct {
	store   *Store
	name    string
	logger  *slog.Logger
	metrics *directoryMetrics

	relayMu sync.RWMutex
	relay   p2p.Broadcaster
}

// New wraps store. relay may be nil and set later with SetRelay.
func New(store *Store, relay p2p.Broadcaster, opts ...Option) *Directory {
	d := &Directory{
		store:   store,
		name:    "local",
		logger:  slog.Default(),
		metrics: newDirectoryMetrics(),
		relay:   relay,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "banknode_directory"))
	d.metrics.observeSize(d.name, store.Len())
	return d
}

// SetRelay replaces the broadcaster used for gossip.
func (d *Directory) SetRelay(relay p2p.Broadcaster) {
	d.relayMu.Lock()
	d.relay = relay
	d.relayMu.Unlock()
}

func (d *Directory) Find(op types.OutPoint) (*types.BanknodeEntry, bool) {
	entry, ok := d.store.Get(op)
	if !ok {
		return nil, false
	}
	return &entry, true
}

// Insert adds entry unless its outpoint is already known.
func (d *Directory) Insert(entry types.BanknodeEntry) error {
	_, err := d.insert(entry)
	return err
}

func (d *Directory) insert(entry types.BanknodeEntry) (bool, error) {
	stored, err := d.store.PutIfAbsent(entry)
	if err != nil {
		return false, fmt.Errorf("directory: insert %s: %w", entry.OutPoint, err)
	}
	if stored {
		d.metrics.observeSize(d.name, d.store.Len())
	}
	return stored, nil
}

// Remove deletes the entry for op. Removing an unknown outpoint succeeds.
func (d *Directory) Remove(op types.OutPoint) error {
	_, err := d.remove(op)
	return err
}

func (d *Directory) remove(op types.OutPoint) (bool, error) {
	removed, err := d.store.Delete(op)
	if err != nil {
		return false, fmt.Errorf("directory: remove %s: %w", op, err)
	}
	if removed {
		d.metrics.observeSize(d.name, d.store.Len())
	}
	return removed, nil
}

// UpdateLastSeen moves the entry's last seen time forward to ts. Older
// timestamps are ignored.
func (d *Directory) UpdateLastSeen(op types.OutPoint, ts int64) error {
	_, err := d.updateLastSeen(op, ts)
	return err
}

func (d *Directory) updateLastSeen(op types.OutPoint, ts int64) (bool, error) {
	changed, err := d.store.Update(op, func(e *types.BanknodeEntry) bool {
		if ts <= e.LastSeen {
			return false
		}
		e.LastSeen = ts
		return true
	})
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrUnknownBanknode, op)
	}
	if err != nil {
		return false, fmt.Errorf("directory: update %s: %w", op, err)
	}
	return changed, nil
}

// replace swaps in a newer announcement for an outpoint already known,
// keeping the later of both last seen times.
func (d *Directory) replace(entry types.BanknodeEntry) (bool, error) {
	return d.store.Update(entry.OutPoint, func(e *types.BanknodeEntry) bool {
		if entry.SigTime <= e.SigTime {
			return false
		}
		lastSeen := e.LastSeen
		*e = entry
		if lastSeen > e.LastSeen {
			e.LastSeen = lastSeen
		}
		return true
	})
}

func (d *Directory) RelayAnnouncement(ann *types.Announcement) error {
	msg, err := p2p.NewAnnounceMessage(ann)
	if err != nil {
		return fmt.Errorf("directory: encode announcement: %w", err)
	}
	return d.broadcast(msg)
}

func (d *Directory) RelayPing(ping *types.Ping) error {
	msg, err := p2p.NewBanknodePingMessage(ping)
	if err != nil {
		return fmt.Errorf("directory: encode ping: %w", err)
	}
	return d.broadcast(msg)
}

func (d *Directory) broadcast(msg *p2p.Message) error {
	d.relayMu.RLock()
	relay := d.relay
	d.relayMu.RUnlock()
	if relay == nil {
		return ErrNoRelay
	}
	return relay.Broadcast(msg)
}

// List returns every known banknode ordered by outpoint.
func (d *Directory) List() []types.BanknodeEntry {
	return d.store.All()
}

// Len returns the number of known banknodes.
func (d *Directory) Len() int {
	return d.store.Len()
}
