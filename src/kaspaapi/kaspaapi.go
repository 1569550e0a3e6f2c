package kaspaapi

import (
	"context"

	"github.com/kaspanet/kaspad/app/appmessage"
	"github.com/kaspanet/kaspad/infrastructure/network/rpcclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// KaspaApi is a thin wrapper over the kaspad RPC client exposing the calls
// the engine needs: balance reads and block streaming for the burn indexer.
type KaspaApi struct {
	address string
	logger  *zap.Logger
	kaspad  *rpcclient.RPCClient
}

func NewKaspaAPI(address string, logger *zap.Logger) (*KaspaApi, error) {
	client, err := rpcclient.NewRPCClient(address)
	if err != nil {
		return nil, errors.Wrapf(err, "failed connecting to kaspad at %s", address)
	}
	return &KaspaApi{
		address: address,
		logger:  logger.With(zap.String("component", "kaspaapi"), zap.String("address", address)),
		kaspad:  client,
	}, nil
}

func (ks *KaspaApi) Close() {
	if err := ks.kaspad.Disconnect(); err != nil {
		ks.logger.Warn("error disconnecting from kaspad", zap.Error(err))
	}
}

func (ks *KaspaApi) GetBalanceByAddress(address string) (uint64, error) {
	resp, err := ks.kaspad.GetBalanceByAddress(address)
	if err != nil {
		return 0, errors.Wrapf(err, "failed fetching balance for %s", address)
	}
	return resp.Balance, nil
}

// StartBlockAddedListener invokes cb for every block kaspad adds to the DAG.
// Returns after registration; delivery happens on the rpc client's goroutine.
func (ks *KaspaApi) StartBlockAddedListener(ctx context.Context, cb func(*appmessage.RPCBlock)) error {
	err := ks.kaspad.RegisterForBlockAddedNotifications(func(notification *appmessage.BlockAddedNotificationMessage) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cb(notification.Block)
	})
	if err != nil {
		return errors.Wrap(err, "failed registering block added notifications")
	}
	ks.logger.Info("listening for added blocks")
	return nil
}

// GetBlocksSince walks the DAG from lowHash forward, invoking cb per block.
// Used to backfill the burn index after downtime.
func (ks *KaspaApi) GetBlocksSince(ctx context.Context, lowHash string, cb func(*appmessage.RPCBlock)) error {
	cursor := lowHash
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := ks.kaspad.GetBlocks(cursor, true, true)
		if err != nil {
			return errors.Wrapf(err, "failed fetching blocks since %s", cursor)
		}
		for _, b := range resp.Blocks {
			cb(b)
		}
		if len(resp.BlockHashes) <= 1 {
			return nil // caught up, lowHash is always included in the response
		}
		cursor = resp.BlockHashes[len(resp.BlockHashes)-1]
	}
}
