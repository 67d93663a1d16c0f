package main

import (
	"context"
	"fmt"

	"github.com/nmxmxh/upaccount/internal/account"
	"github.com/nmxmxh/upaccount/internal/config"
	"github.com/nmxmxh/upaccount/internal/core"
	"github.com/nmxmxh/upaccount/internal/keymanager"
	"github.com/nmxmxh/upaccount/internal/storage/sqlite"
	"github.com/nmxmxh/upaccount/internal/vm"
	"go.uber.org/zap"
)

// metaStore records which contracts the node bootstrapped.
type metaStore interface {
	Meta(ctx context.Context, key string) (string, bool, error)
	PutMeta(ctx context.Context, key, value string) error
}

type deployed struct {
	Identity   core.Address
	Controller core.Address // zero when the owner key owns the identity directly
}

// bootstrap returns the node's identity, deploying it on first start. With
// the controller enabled the identity is handed to a fresh controller that
// lists owner as its administrator. Each step is recorded as soon as it
// lands, so a start interrupted midway resumes where it stopped.
func bootstrap(ctx context.Context, h *vm.Host, meta metaStore, owner core.Address, cfg config.Config, log *zap.Logger) (deployed, error) {
	var out deployed
	var err error

	out.Identity, err = storedAddress(ctx, meta, sqlite.MetaIdentity, func() (core.Address, error) {
		addr, _, err := h.Deploy(ctx, owner, 0, account.InitCode(owner))
		if err != nil {
			return core.Address{}, fmt.Errorf("deploy identity: %w", err)
		}
		log.Info("deployed identity", zap.Stringer("address", addr))
		return addr, nil
	})
	if err != nil {
		return out, err
	}

	if cfg.InitialCredits > 0 {
		if _, funded, err := meta.Meta(ctx, sqlite.MetaFunded); err != nil {
			return out, err
		} else if !funded {
			if err := h.Fund(ctx, out.Identity, cfg.InitialCredits); err != nil {
				return out, fmt.Errorf("fund identity: %w", err)
			}
			if err := meta.PutMeta(ctx, sqlite.MetaFunded, fmt.Sprint(cfg.InitialCredits)); err != nil {
				return out, err
			}
		}
	}

	_, hasController, err := meta.Meta(ctx, sqlite.MetaController)
	if err != nil {
		return out, err
	}
	if !cfg.EnableController && !hasController {
		return out, nil
	}
	out.Controller, err = storedAddress(ctx, meta, sqlite.MetaController, func() (core.Address, error) {
		addr, _, err := h.Deploy(ctx, owner, 0, keymanager.InitCode(out.Identity, owner))
		if err != nil {
			return core.Address{}, fmt.Errorf("deploy controller: %w", err)
		}
		log.Info("deployed controller", zap.Stringer("address", addr))
		return addr, nil
	})
	if err != nil {
		return out, err
	}

	id := account.Bind(h, out.Identity, owner)
	current, err := id.Owner(ctx)
	if err != nil {
		return out, fmt.Errorf("read identity owner: %w", err)
	}
	if current == owner {
		if _, err := id.TransferOwnership(ctx, out.Controller); err != nil {
			return out, fmt.Errorf("hand identity to controller: %w", err)
		}
	}
	return out, nil
}

// storedAddress returns the address recorded under key, or creates one and
// records it before returning.
func storedAddress(ctx context.Context, meta metaStore, key string, create func() (core.Address, error)) (core.Address, error) {
	raw, ok, err := meta.Meta(ctx, key)
	if err != nil {
		return core.Address{}, err
	}
	if ok {
		addr, err := core.HexToAddress(raw)
		if err != nil {
			return core.Address{}, fmt.Errorf("stored %s address: %w", key, err)
		}
		return addr, nil
	}
	addr, err := create()
	if err != nil {
		return core.Address{}, err
	}
	if err := meta.PutMeta(ctx, key, addr.String()); err != nil {
		return core.Address{}, err
	}
	return addr, nil
}
