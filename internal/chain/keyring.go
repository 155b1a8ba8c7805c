package chain

import (
	"context"
	"log/slog"
	"sync"
)

// Key is one signing account.
type Key struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// BalanceFunc reports the spendable balance of address.
type BalanceFunc func(ctx context.Context, address string) (uint64, error)

// Keyring rotates submissions across keys. A key is handed out only while it
// is idle and holds at least the minimum balance.
type Keyring struct {
	chainID    string
	name       string
	keys       []Key
	minBalance uint64
	balance    BalanceFunc
	logger     *slog.Logger

	mu   sync.Mutex
	busy map[string]bool
	next int
}

func NewKeyring(chainID, name string, keys []Key, minBalance uint64, balance BalanceFunc, logger *slog.Logger) *Keyring {
	return &Keyring{
		chainID:    chainID,
		name:       name,
		keys:       keys,
		minBalance: minBalance,
		balance:    balance,
		logger:     logger,
		busy:       make(map[string]bool),
	}
}

// With runs fn with the next usable key held exclusively.
// It returns *NoSignerError when no key qualifies.
func (k *Keyring) With(ctx context.Context, fn func(Key) error) error {
	key, ok := k.acquire(ctx)
	if !ok {
		return &NoSignerError{ChainID: k.chainID, Keyring: k.name}
	}
	defer k.release(key)
	return fn(key)
}

func (k *Keyring) acquire(ctx context.Context) (Key, bool) {
	k.mu.Lock()
	start := k.next
	k.mu.Unlock()

	for i := range k.keys {
		idx := (start + i) % len(k.keys)
		key := k.keys[idx]

		k.mu.Lock()
		if k.busy[key.Address] {
			k.mu.Unlock()
			continue
		}
		k.busy[key.Address] = true
		k.mu.Unlock()

		if k.minBalance > 0 {
			bal, err := k.balance(ctx, key.Address)
			if err != nil || bal < k.minBalance {
				if err != nil {
					k.logger.Warn("balance query failed", "key", key.Name, "error", err)
				} else {
					k.logger.Debug("key below minimum balance", "key", key.Name, "balance", bal, "min_balance", k.minBalance)
				}
				k.release(key)
				continue
			}
		}

		k.mu.Lock()
		k.next = (idx + 1) % len(k.keys)
		k.mu.Unlock()
		return key, true
	}
	return Key{}, false
}

func (k *Keyring) release(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.busy, key.Address)
}

func (k *Keyring) Name() string { return k.name }
