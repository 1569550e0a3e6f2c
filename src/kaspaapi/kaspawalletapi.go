package kaspaapi

import (
	"context"

	"github.com/kasboard/kasboard/src/model"
	"github.com/kaspanet/kaspad/cmd/kaspawallet/daemon/client"
	"github.com/kaspanet/kaspad/cmd/kaspawallet/daemon/pb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type KaspawalletApi struct {
	address string
	logger  *zap.Logger
}

func NewKaspawalletApi(daemonAddress string, logger *zap.Logger) KaspawalletApi {
	return KaspawalletApi{
		address: daemonAddress,
		logger:  logger.With(zap.String("address", daemonAddress), zap.String("component", "kaspawallet_api")),
	}
}

// SendKas pays amount sompi from the reward pool wallet to a voter's wallet.
// Used by the settler to pay out reward shares once a period settles.
func (ks *KaspawalletApi) SendKas(ctx context.Context, to model.VoterId, from string, amount uint64, pass string) (string, error) {
	ks.logger.Info("sending kas", zap.String("to", string(to)), zap.String("from", from), zap.Uint64("amount", amount))
	walletClient, deferMe, err := client.Connect(ks.address)
	if err != nil {
		return "", errors.Wrap(err, "failed to connect wallet client to kaspad")
	}
	defer deferMe()
	resp, err := walletClient.Send(ctx, &pb.SendRequest{
		ToAddress:                string(to),
		Amount:                   amount,
		Password:                 pass,
		From:                     []string{from},
		UseExistingChangeAddress: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to send %d sompi to wallet %s from %s", amount, to, from)
	}
	if len(resp.TxIDs) == 0 {
		return "", errors.Errorf("no tx ids returned after sending %d sompi to wallet %s from %s", amount, to, from)
	}
	ks.logger.Info("sent kas", zap.String("to", string(to)), zap.String("tx", resp.TxIDs[0]))
	return resp.TxIDs[0], nil
}
