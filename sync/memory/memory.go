// Package memory provides an in-process sync provider. It backs the
// sync test suite and serves as a loopback target for offline use; the
// blob and ETag semantics mirror what the real cloud backends enforce.
package memory

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/VBlackJack/genpwd-pro-sub017/internal/util"
	"github.com/VBlackJack/genpwd-pro-sub017/sync"
)

type object struct {
	data     []byte
	etag     string
	name     string
	modified time.Time
	seq      uint64
}

// Provider is an in-memory sync.Provider. The zero value is not usable;
// use New.
type Provider struct {
	mu      gosync.Mutex
	objects map[string]*object
	seq     uint64
	now     func() time.Time

	// FailNext, when set, is returned by the next data operation and
	// then cleared. Tests use it to inject provider faults.
	FailNext error

	// AuthErr, when set, is returned by Authenticate.
	AuthErr error
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New returns an empty in-memory provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		objects: make(map[string]*object),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Kind() string { return "memory" }

func (p *Provider) Capabilities() sync.Capability { return sync.CapChangeCursor }

func (p *Provider) Authenticate(ctx context.Context) (sync.Account, error) {
	if err := ctx.Err(); err != nil {
		return sync.Account{}, err
	}
	if p.AuthErr != nil {
		return sync.Account{}, p.AuthErr
	}
	return sync.Account{ID: "local", DisplayName: "In-process"}, nil
}

func (p *Provider) ListVaults(ctx context.Context, account sync.Account) ([]sync.RemoteVault, error) {
	if err := p.gate(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var vaults []sync.RemoteVault
	for id, obj := range p.objects {
		vaults = append(vaults, sync.RemoteVault{ID: id, Name: obj.name, Modified: obj.modified})
	}
	return vaults, nil
}

func (p *Provider) Download(ctx context.Context, account sync.Account, vaultID string) ([]byte, string, error) {
	if err := p.gate(ctx); err != nil {
		return nil, "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, ok := p.objects[vaultID]
	if !ok {
		return nil, "", sync.ErrRemoteNotFound
	}
	return util.CopyBytes(obj.data), obj.etag, nil
}

func (p *Provider) Upload(ctx context.Context, account sync.Account, vaultID string, data []byte, ifMatch string) (string, time.Time, error) {
	if err := p.gate(ctx); err != nil {
		return "", time.Time{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	obj, exists := p.objects[vaultID]
	switch {
	case ifMatch == "" && exists:
		return "", time.Time{}, sync.ErrConflict
	case ifMatch != "" && !exists:
		return "", time.Time{}, sync.ErrRemoteNotFound
	case ifMatch != "" && obj.etag != ifMatch:
		return "", time.Time{}, sync.ErrConflict
	}

	p.seq++
	now := p.now().UTC()
	name := vaultID
	if exists {
		name = obj.name
	}
	p.objects[vaultID] = &object{
		data:     util.CopyBytes(data),
		etag:     uuid.NewString(),
		name:     name,
		modified: now,
		seq:      p.seq,
	}
	return p.objects[vaultID].etag, now, nil
}

func (p *Provider) CreateVault(ctx context.Context, account sync.Account, name string) (sync.RemoteVault, error) {
	if err := p.gate(ctx); err != nil {
		return sync.RemoteVault{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := uuid.NewString()
	now := p.now().UTC()
	p.objects[id] = &object{name: name, etag: uuid.NewString(), modified: now, seq: p.seq}
	return sync.RemoteVault{ID: id, Name: name, Modified: now}, nil
}

func (p *Provider) DeleteVault(ctx context.Context, account sync.Account, vaultID string) error {
	if err := p.gate(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.objects[vaultID]; !ok {
		return sync.ErrRemoteNotFound
	}
	delete(p.objects, vaultID)
	return nil
}

// Changes reports vaults modified after the sequence encoded in cursor.
// An empty cursor means everything.
func (p *Provider) Changes(ctx context.Context, account sync.Account, cursor string) (string, []sync.Change, error) {
	if err := p.gate(ctx); err != nil {
		return "", nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var since uint64
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &since); err != nil {
			return "", nil, fmt.Errorf("invalid cursor %q", cursor)
		}
	}

	var changes []sync.Change
	max := since
	for id, obj := range p.objects {
		if obj.seq > since {
			changes = append(changes, sync.Change{VaultID: id})
		}
		if obj.seq > max {
			max = obj.seq
		}
	}
	if p.seq > max {
		max = p.seq
	}
	return fmt.Sprintf("%d", max), changes, nil
}

func (p *Provider) Health(ctx context.Context, account sync.Account) (<-chan sync.Status, error) {
	ch := make(chan sync.Status, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case ch <- sync.StatusOK:
				default:
				}
			}
		}
	}()
	return ch, nil
}

// gate applies fault injection ahead of a data operation.
func (p *Provider) gate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return err
	}
	return nil
}

var _ sync.Provider = (*Provider)(nil)
