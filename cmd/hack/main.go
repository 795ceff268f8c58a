package main

import (
	"context"
	"math/big"
	"time"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/account/kernel"
	"github.com/Layr-Labs/userop-go/pkg/addressResolver"
	"github.com/Layr-Labs/userop-go/pkg/bundler"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/feeEstimator"
	"github.com/Layr-Labs/userop-go/pkg/inclusionPoller"
	"github.com/Layr-Labs/userop-go/pkg/logger"
	"github.com/Layr-Labs/userop-go/pkg/transport"
	"github.com/Layr-Labs/userop-go/pkg/txSigner"
	"github.com/Layr-Labs/userop-go/pkg/userOpBuilder"
	"github.com/ethereum/go-ethereum/common"
)

var (
	kernelFactoryAddress = common.HexToAddress("0x4E4946298614FC299B50c947289F4aD0572CB9ce")
	ownerPrivateKey      = "<key>"
	bundlerUrl           = "<bundler-url>"
)

func main() {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: true})
	if err != nil {
		panic(err)
	}
	ctx := context.Background()

	cm := chainManager.NewChainManager()

	sepoliaConfig := &chainManager.ChainConfig{
		ChainID: 11155111,
		RPCUrl:  "https://ethereum-sepolia-rpc.publicnode.com",
	}
	if err := cm.AddChain(ctx, sepoliaConfig); err != nil {
		l.Sugar().Fatalf("Failed to add chain: %v", err)
	}
	sepolia, err := cm.GetChainForId(sepoliaConfig.ChainID)
	if err != nil {
		l.Sugar().Fatalf("Failed to get chain for ID %d: %v", sepoliaConfig.ChainID, err)
	}

	owner, err := txSigner.NewPrivateKeySigner(ownerPrivateKey)
	if err != nil {
		l.Sugar().Fatalf("Failed to create private key signer: %v", err)
	}

	ep := entryPoint.NewEntryPoint(nil, sepolia.RPCClient, l)
	acc, err := kernel.NewKernelAccount(&kernel.Config{FactoryAddress: kernelFactoryAddress}, owner, ep, l)
	if err != nil {
		l.Sugar().Fatalf("Failed to create kernel account: %v", err)
	}
	resolver := addressResolver.NewAddressResolver(nil, acc, ep, sepolia.RPCClient, l)

	fees, err := feeEstimator.NewFeeEstimator(nil, sepolia.RPCClient, l)
	if err != nil {
		l.Sugar().Fatalf("Failed to create fee estimator: %v", err)
	}

	bundlerClient, err := bundler.NewBundlerClient(ctx, &bundler.Config{
		Url:               bundlerUrl,
		EntryPointAddress: ep.Address(),
	}, l)
	if err != nil {
		l.Sugar().Fatalf("Failed to create bundler client: %v", err)
	}
	defer bundlerClient.Close()

	builder := userOpBuilder.NewUserOpBuilder(nil, acc, ep, resolver, fees, sepolia.RPCClient, nil, bundlerClient, l)
	if err := builder.Init(ctx); err != nil {
		l.Sugar().Fatalf("Failed to initialize builder: %v", err)
	}

	sender, err := builder.GetAccountAddress(ctx)
	if err != nil {
		l.Sugar().Fatalf("Failed to get account address: %v", err)
	}
	phantom, err := resolver.IsPhantom(ctx)
	if err != nil {
		l.Sugar().Fatalf("Failed to check account deployment: %v", err)
	}
	l.Sugar().Infow("Using account", "address", sender.String(), "phantom", phantom)

	poller := inclusionPoller.NewInclusionPoller(nil, ep, sepolia.RPCClient, l)
	t := transport.NewTransport(&transport.TransportConfig{
		PollTimeout:  2 * time.Minute,
		PollInterval: 5 * time.Second,
	}, builder, acc, ep, bundlerClient, poller, l)

	// a zero-value call to self deploys the account on first use
	result, err := t.SendUserOperation(ctx, account.TransactionDetails{
		Target: sender,
		Value:  big.NewInt(0),
		Data:   []byte{},
	})
	if err != nil {
		l.Sugar().Fatalf("Failed to send user operation: %v", err)
	}
	if !result.Included {
		l.Sugar().Warnw("User operation not included yet", "userOpHash", result.UserOpHash.String())
		return
	}
	l.Sugar().Infow("User operation included",
		"userOpHash", result.UserOpHash.String(),
		"transactionHash", result.TxHash.String(),
	)
}
