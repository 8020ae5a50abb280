// Package balance は残高照会とdevnet/testnetのエアドロップ要求を提供する。
package balance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/hitoshi/solify/internal/chain"
	"github.com/hitoshi/solify/internal/metrics"
	"github.com/hitoshi/solify/internal/model"
)

// Network は残高照会とエアドロップのネットワーク操作のインターフェース。
type Network interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error)
}

// UserFinder はユーザー名でユーザーを取得するインターフェース。
type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// Config はゲートウェイの設定。
type Config struct {
	NetworkName     string
	AirdropAllowed  bool
	AirdropLamports uint64
}

// Gateway は残高とエアドロップの操作を提供する。
type Gateway struct {
	network Network
	users   UserFinder
	metrics metrics.MetricsCollector
	config  Config
}

// NewGateway はGatewayを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewGateway(network Network, users UserFinder, collector metrics.MetricsCollector, config Config) *Gateway {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Gateway{network: network, users: users, metrics: collector, config: config}
}

// Balance は指定アドレスの残高をSOL単位で返す。
func (g *Gateway) Balance(ctx context.Context, address string) (float64, error) {
	account, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	lamports, err := g.network.Balance(ctx, account)
	if err != nil {
		slog.Warn("failed to fetch balance",
			slog.String("address", account.String()),
			slog.String("error", err.Error()),
		)
		return 0, model.NewUpstreamFailureError("Could not fetch balance", chain.ErrorDetail(err))
	}
	return LamportsToSOL(lamports), nil
}

// BalanceOf は指定ユーザーのカストディアルアドレスの残高をSOL単位で返す。
func (g *Gateway) BalanceOf(ctx context.Context, username string) (float64, error) {
	user, err := g.users.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return 0, model.NewUserNotFoundError()
	}
	return g.Balance(ctx, user.PublicKey)
}

// RequestAirdrop は指定アドレスへのエアドロップを要求し、トランザクション署名を返す。
// mainnet-betaでは要求せずにBadRequestを返す。
func (g *Gateway) RequestAirdrop(ctx context.Context, address string) (string, error) {
	account, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	if !g.config.AirdropAllowed {
		g.metrics.RecordAirdrop("refused")
		return "", model.NewAirdropUnavailableError(g.config.NetworkName)
	}

	sig, err := g.network.RequestAirdrop(ctx, account, g.config.AirdropLamports)
	if err != nil {
		g.metrics.RecordAirdrop("failure")
		slog.Warn("airdrop request failed",
			slog.String("address", account.String()),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamFailureError("Airdrop request failed", chain.ErrorDetail(err))
	}

	g.metrics.RecordAirdrop("success")
	slog.Info("airdrop requested",
		slog.String("address", account.String()),
		slog.Uint64("lamports", g.config.AirdropLamports),
		slog.String("signature", sig.String()),
	)
	return sig.String(), nil
}

// LamportsToSOL はlamportsをSOLに換算する。
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
}

func parseAddress(address string) (solana.PublicKey, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return solana.PublicKey{}, model.NewMissingAddressError()
	}
	account, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, model.NewInvalidAddressError(address)
	}
	return account, nil
}
