package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/Layr-Labs/userop-go/pkg/account"
	"github.com/Layr-Labs/userop-go/pkg/account/blsAccount"
	"github.com/Layr-Labs/userop-go/pkg/account/kernel"
	"github.com/Layr-Labs/userop-go/pkg/addressResolver"
	"github.com/Layr-Labs/userop-go/pkg/blsSigner"
	"github.com/Layr-Labs/userop-go/pkg/blsSigner/awsSMBLSSigner"
	"github.com/Layr-Labs/userop-go/pkg/bundler"
	"github.com/Layr-Labs/userop-go/pkg/chainManager"
	"github.com/Layr-Labs/userop-go/pkg/entryPoint"
	"github.com/Layr-Labs/userop-go/pkg/feeEstimator"
	"github.com/Layr-Labs/userop-go/pkg/inclusionPoller"
	"github.com/Layr-Labs/userop-go/pkg/logger"
	"github.com/Layr-Labs/userop-go/pkg/multiSend"
	"github.com/Layr-Labs/userop-go/pkg/sponsor"
	"github.com/Layr-Labs/userop-go/pkg/transport"
	"github.com/Layr-Labs/userop-go/pkg/txSigner"
	"github.com/Layr-Labs/userop-go/pkg/userOpBuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	accountTypeKernel = "kernel"
	accountTypeBLS    = "bls"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "userop",
		Usage: "ERC-4337 user operation builder and sender",
		Description: `The userop CLI builds, signs and relays ERC-4337 user operations for
Kernel (ECDSA) and BLS smart accounts. Operations can be sponsored by a paymaster
service and are submitted through any bundler that speaks the eth_*UserOperation API.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				EnvVars: []string{"DEBUG"},
			},
			&cli.StringFlag{
				Name:     "rpc-url",
				Usage:    "Chain RPC URL",
				Required: true,
				EnvVars:  []string{"RPC_URL"},
			},
			&cli.Uint64Flag{
				Name:     "chain-id",
				Usage:    "Chain ID the RPC URL must report",
				Required: true,
				EnvVars:  []string{"CHAIN_ID"},
			},
			&cli.StringFlag{
				Name:    "entry-point",
				Usage:   "EntryPoint contract address",
				Value:   entryPoint.DefaultAddress.Hex(),
				EnvVars: []string{"ENTRY_POINT_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "factory",
				Usage:   "Account factory address (required by address, build and send)",
				EnvVars: []string{"FACTORY_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "account-type",
				Usage:   "Account variant: kernel or bls",
				Value:   accountTypeKernel,
				EnvVars: []string{"ACCOUNT_TYPE"},
			},
			&cli.StringFlag{
				Name:    "account-index",
				Usage:   "Kernel account index or BLS account salt",
				Value:   "0",
				EnvVars: []string{"ACCOUNT_INDEX"},
			},
			&cli.StringFlag{
				Name:    "account-address",
				Usage:   "Known account address, skips counterfactual address simulation",
				EnvVars: []string{"ACCOUNT_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "multisend",
				Usage:   "MultiSend contract used by Kernel batches",
				Value:   multiSend.DefaultAddress.Hex(),
				EnvVars: []string{"MULTISEND_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "bundler-url",
				Usage:   "Bundler JSON-RPC URL, also used for remote gas estimation",
				EnvVars: []string{"BUNDLER_URL"},
			},
			// Sponsorship options
			&cli.StringFlag{
				Name:    "paymaster-url",
				Usage:   "Paymaster service URL",
				EnvVars: []string{"PAYMASTER_URL"},
			},
			&cli.StringFlag{
				Name:    "project-id",
				Usage:   "Paymaster service project ID",
				EnvVars: []string{"PROJECT_ID"},
			},
			&cli.StringFlag{
				Name:    "gas-token",
				Usage:   "ERC-20 token gas is paid in (token paymaster)",
				EnvVars: []string{"GAS_TOKEN_ADDRESS"},
			},
			// ECDSA signing options
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Owner private key (hex format, with or without 0x prefix)",
				EnvVars: []string{"PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "aws-kms-key-id",
				Usage:   "AWS KMS key ID of the owner key",
				EnvVars: []string{"AWS_KMS_KEY_ID"},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region of the KMS key or BLS keystore secret",
				Value:   "us-east-1",
				EnvVars: []string{"AWS_REGION"},
			},
			// BLS signing options
			&cli.StringFlag{
				Name:    "bls-private-key",
				Usage:   "BLS owner private key (hex format, with or without 0x prefix)",
				EnvVars: []string{"BLS_PRIVATE_KEY"},
			},
			&cli.StringFlag{
				Name:    "bls-aws-secret-name",
				Usage:   "AWS Secrets Manager secret name containing the BLS keystore",
				EnvVars: []string{"BLS_AWS_SECRET_NAME"},
			},
			&cli.StringFlag{
				Name:    "bls-keystore-password",
				Usage:   "Password of the BLS keystore",
				EnvVars: []string{"BLS_KEYSTORE_PASSWORD"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "address",
				Usage:  "Print the account address and whether it is deployed",
				Before: validateAccountFlags,
				Action: addressAction,
			},
			{
				Name:   "build",
				Usage:  "Build an unsigned user operation and print it as JSON",
				Flags:  callFlags(),
				Before: validateAccountFlags,
				Action: buildAction,
			},
			{
				Name:   "send",
				Usage:  "Build, sign and submit a user operation, then wait for inclusion",
				Flags:  append(callFlags(), pollFlags()...),
				Before: validateAccountFlags,
				Action: sendAction,
			},
			{
				Name:  "receipt",
				Usage: "Wait for the transaction that included a user operation",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "user-op-hash",
						Usage:    "User operation hash returned by the bundler",
						Required: true,
					},
					&cli.Uint64Flag{
						Name:  "from-block",
						Usage: "First block searched for the inclusion event",
					},
				}, pollFlags()...),
				Action: receiptAction,
			},
		},
	}
}

func callFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "target",
			Aliases:  []string{"t"},
			Usage:    "Call target",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "value",
			Usage: "Wei sent with the call",
			Value: "0",
		},
		&cli.StringFlag{
			Name:  "data",
			Usage: "Hex call data",
			Value: "0x",
		},
		&cli.BoolFlag{
			Name:  "delegate",
			Usage: "Delegate call the target",
		},
		&cli.Uint64Flag{
			Name:  "gas-limit",
			Usage: "Call gas limit (estimated when unset)",
		},
	}
}

func pollFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:  "poll-timeout",
			Usage: "How long to wait for inclusion",
			Value: inclusionPoller.DefaultTimeout,
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "Interval between inclusion checks",
			Value: inclusionPoller.DefaultInterval,
		},
	}
}

// validateAccountFlags checks the flags of commands that build or sign for an account.
func validateAccountFlags(c *cli.Context) error {
	if c.String("factory") == "" {
		return fmt.Errorf("--factory is required")
	}
	signers := 0
	for _, name := range []string{"private-key", "aws-kms-key-id", "bls-private-key", "bls-aws-secret-name"} {
		if c.String(name) != "" {
			signers++
		}
	}
	if signers == 0 {
		return fmt.Errorf("must specify one of: --private-key, --aws-kms-key-id, --bls-private-key or --bls-aws-secret-name")
	}
	if signers > 1 {
		return fmt.Errorf("can only specify one signing option")
	}

	blsKey := c.String("bls-private-key") != "" || c.String("bls-aws-secret-name") != ""
	switch c.String("account-type") {
	case accountTypeKernel:
		if blsKey {
			return fmt.Errorf("kernel accounts need an ECDSA signer")
		}
	case accountTypeBLS:
		if !blsKey {
			return fmt.Errorf("bls accounts need a BLS signer")
		}
	default:
		return fmt.Errorf("unknown account type %q", c.String("account-type"))
	}

	if c.String("gas-token") != "" && c.String("paymaster-url") == "" {
		return fmt.Errorf("--gas-token requires --paymaster-url")
	}
	return nil
}

func setupLogger(c *cli.Context) (*zap.Logger, error) {
	return logger.NewLogger(&logger.LoggerConfig{
		Debug: c.Bool("debug"),
	})
}

func parseAddress(c *cli.Context, name string) (common.Address, error) {
	value := c.String(name)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid --%s address: %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func parseBig(c *cli.Context, name string) (*big.Int, error) {
	value, ok := math.ParseBig256(c.String(name))
	if !ok {
		return nil, fmt.Errorf("invalid --%s: %q", name, c.String(name))
	}
	return value, nil
}

// stack holds the components wired from global flags.
type stack struct {
	logger     *zap.Logger
	chain      *chainManager.Chain
	entryPoint *entryPoint.EntryPoint
	account    account.IAccount
	resolver   *addressResolver.AddressResolver
	builder    *userOpBuilder.UserOpBuilder
	bundler    *bundler.BundlerClient
	poller     *inclusionPoller.InclusionPoller
}

func setupStack(ctx context.Context, c *cli.Context) (*stack, error) {
	l, err := setupLogger(c)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	chain, err := setupChain(ctx, c)
	if err != nil {
		return nil, err
	}

	epAddress, err := parseAddress(c, "entry-point")
	if err != nil {
		return nil, err
	}
	ep := entryPoint.NewEntryPoint(&entryPoint.Config{Address: epAddress}, chain.RPCClient, l)

	acc, err := setupAccount(c, ep, l)
	if err != nil {
		return nil, fmt.Errorf("failed to setup account: %w", err)
	}

	resolverCfg := &addressResolver.Config{}
	if c.String("account-address") != "" {
		preset, err := parseAddress(c, "account-address")
		if err != nil {
			return nil, err
		}
		resolverCfg.PresetAddress = &preset
	}
	resolver := addressResolver.NewAddressResolver(resolverCfg, acc, ep, chain.RPCClient, l)

	fees, err := feeEstimator.NewFeeEstimator(nil, chain.RPCClient, l)
	if err != nil {
		return nil, err
	}

	var negotiator sponsor.INegotiator
	if c.String("paymaster-url") != "" {
		paymaster, err := setupPaymaster(c, epAddress, l)
		if err != nil {
			return nil, fmt.Errorf("failed to setup paymaster: %w", err)
		}
		negotiator = sponsor.NewNegotiator(&sponsor.NegotiatorConfig{
			EntryPointAddress:      epAddress,
			DeploymentCallGasLimit: big.NewInt(userOpBuilder.DefaultDeploymentCallGasLimit),
		}, paymaster, acc, chain.RPCClient, l)
	}

	var bundlerClient *bundler.BundlerClient
	var remote bundler.IGasEstimator
	if url := c.String("bundler-url"); url != "" {
		bundlerClient, err = bundler.NewBundlerClient(ctx, &bundler.Config{
			Url:               url,
			EntryPointAddress: epAddress,
		}, l)
		if err != nil {
			return nil, err
		}
		remote = bundlerClient
	}

	builder := userOpBuilder.NewUserOpBuilder(nil, acc, ep, resolver, fees, chain.RPCClient, negotiator, remote, l)
	if err := builder.Init(ctx); err != nil {
		return nil, err
	}

	return &stack{
		logger:     l,
		chain:      chain,
		entryPoint: ep,
		account:    acc,
		resolver:   resolver,
		builder:    builder,
		bundler:    bundlerClient,
		poller:     inclusionPoller.NewInclusionPoller(nil, ep, chain.RPCClient, l),
	}, nil
}

func setupChain(ctx context.Context, c *cli.Context) (*chainManager.Chain, error) {
	cm := chainManager.NewChainManager()
	chainCfg := &chainManager.ChainConfig{
		ChainID: c.Uint64("chain-id"),
		RPCUrl:  c.String("rpc-url"),
	}
	if err := cm.AddChain(ctx, chainCfg); err != nil {
		return nil, fmt.Errorf("failed to add chain %d: %w", chainCfg.ChainID, err)
	}
	return cm.GetChainForId(chainCfg.ChainID)
}

func setupAccount(c *cli.Context, ep entryPoint.IEntryPoint, l *zap.Logger) (account.IAccount, error) {
	factory, err := parseAddress(c, "factory")
	if err != nil {
		return nil, err
	}
	index, err := parseBig(c, "account-index")
	if err != nil {
		return nil, err
	}

	if c.String("account-type") == accountTypeBLS {
		signer, err := setupBLSSigner(c, l)
		if err != nil {
			return nil, err
		}
		return blsAccount.NewBLSAccount(&blsAccount.Config{
			FactoryAddress: factory,
			Salt:           index,
		}, signer, ep, l)
	}

	signer, err := setupSigner(c)
	if err != nil {
		return nil, err
	}
	multiSendAddress, err := parseAddress(c, "multisend")
	if err != nil {
		return nil, err
	}
	return kernel.NewKernelAccount(&kernel.Config{
		FactoryAddress:   factory,
		Index:            index,
		MultiSendAddress: multiSendAddress,
	}, signer, ep, l)
}

func setupSigner(c *cli.Context) (txSigner.ISigner, error) {
	if privateKey := c.String("private-key"); privateKey != "" {
		return txSigner.NewPrivateKeySigner(privateKey)
	}
	if kmsKeyID := c.String("aws-kms-key-id"); kmsKeyID != "" {
		return txSigner.NewAWSKMSSigner(kmsKeyID, c.String("aws-region"))
	}
	return nil, fmt.Errorf("no ECDSA signing method configured")
}

func setupBLSSigner(c *cli.Context, l *zap.Logger) (blsSigner.IBLSSigner, error) {
	if privateKey := c.String("bls-private-key"); privateKey != "" {
		pk, err := blsSigner.PrivateKeyFromHex(privateKey)
		if err != nil {
			return nil, err
		}
		return blsSigner.NewInMemoryBLSSigner(pk)
	}
	if secretName := c.String("bls-aws-secret-name"); secretName != "" {
		return awsSMBLSSigner.NewAWSSMBLSSigner(&awsSMBLSSigner.AWSSMBLSSignerConfig{
			Region:           c.String("aws-region"),
			SecretName:       secretName,
			KeystorePassword: c.String("bls-keystore-password"),
		}, l)
	}
	return nil, fmt.Errorf("no BLS signing method configured")
}

func setupPaymaster(c *cli.Context, epAddress common.Address, l *zap.Logger) (sponsor.IPaymasterAPI, error) {
	cfg := sponsor.PaymasterConfig{
		Url:               c.String("paymaster-url"),
		ProjectId:         c.String("project-id"),
		ChainId:           c.Uint64("chain-id"),
		EntryPointAddress: epAddress,
	}
	if c.String("gas-token") == "" {
		return sponsor.NewPaymasterClient(&cfg, l)
	}

	gasToken, err := parseAddress(c, "gas-token")
	if err != nil {
		return nil, err
	}
	cache, err := sponsor.NewLRUAddressCache(sponsor.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	return sponsor.NewTokenPaymasterClient(&sponsor.TokenPaymasterConfig{
		PaymasterConfig: cfg,
		GasTokenAddress: gasToken,
	}, cache, l)
}

func transactionDetails(c *cli.Context) (account.TransactionDetails, error) {
	target, err := parseAddress(c, "target")
	if err != nil {
		return account.TransactionDetails{}, err
	}
	value, err := parseBig(c, "value")
	if err != nil {
		return account.TransactionDetails{}, err
	}
	data, err := hexutil.Decode(c.String("data"))
	if err != nil {
		return account.TransactionDetails{}, fmt.Errorf("invalid --data: %w", err)
	}

	details := account.TransactionDetails{
		Target: target,
		Value:  value,
		Data:   data,
	}
	if c.Bool("delegate") {
		details.ExecuteType = account.ExecuteTypeDelegate
	}
	if gasLimit := c.Uint64("gas-limit"); gasLimit != 0 {
		details.GasLimit = new(big.Int).SetUint64(gasLimit)
	}
	return details, nil
}

func addressAction(c *cli.Context) error {
	ctx := c.Context
	s, err := setupStack(ctx, c)
	if err != nil {
		return err
	}
	address, err := s.resolver.ResolveAddress(ctx)
	if err != nil {
		return err
	}
	phantom, err := s.resolver.IsPhantom(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Account: %s\n", address.Hex())
	fmt.Printf("Deployed: %t\n", !phantom)
	return nil
}

func buildAction(c *cli.Context) error {
	ctx := c.Context
	details, err := transactionDetails(c)
	if err != nil {
		return err
	}
	s, err := setupStack(ctx, c)
	if err != nil {
		return err
	}
	op, err := s.builder.BuildUserOperation(ctx, details)
	if err != nil {
		return fmt.Errorf("failed to build user operation: %w", err)
	}
	out, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func sendAction(c *cli.Context) error {
	ctx := c.Context
	details, err := transactionDetails(c)
	if err != nil {
		return err
	}
	s, err := setupStack(ctx, c)
	if err != nil {
		return err
	}
	if s.bundler == nil {
		return fmt.Errorf("--bundler-url is required to send user operations")
	}
	defer s.bundler.Close()
	if err := s.bundler.CheckEntryPoint(ctx); err != nil {
		return err
	}

	t := transport.NewTransport(&transport.TransportConfig{
		PollTimeout:  c.Duration("poll-timeout"),
		PollInterval: c.Duration("poll-interval"),
	}, s.builder, s.account, s.entryPoint, s.bundler, s.poller, s.logger)

	result, err := t.SendUserOperation(ctx, details)
	if err != nil {
		return fmt.Errorf("failed to send user operation: %w", err)
	}
	fmt.Printf("User Operation Hash: %s\n", result.UserOpHash.Hex())
	if !result.Included {
		fmt.Println("Transaction Hash: not found before timeout")
		return nil
	}
	fmt.Printf("Transaction Hash: %s\n", result.TxHash.Hex())
	return nil
}

func receiptAction(c *cli.Context) error {
	ctx := c.Context
	opHash, err := hexutil.Decode(c.String("user-op-hash"))
	if err != nil || len(opHash) != common.HashLength {
		return fmt.Errorf("invalid --user-op-hash: %q", c.String("user-op-hash"))
	}
	l, err := setupLogger(c)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	chain, err := setupChain(ctx, c)
	if err != nil {
		return err
	}
	epAddress, err := parseAddress(c, "entry-point")
	if err != nil {
		return err
	}
	ep := entryPoint.NewEntryPoint(&entryPoint.Config{Address: epAddress}, chain.RPCClient, l)
	poller := inclusionPoller.NewInclusionPoller(nil, ep, chain.RPCClient, l)

	fromBlock := new(big.Int).SetUint64(c.Uint64("from-block"))
	event, err := poller.PollEventFromBlock(ctx, common.BytesToHash(opHash), fromBlock, c.Duration("poll-timeout"), c.Duration("poll-interval"))
	if err != nil {
		return err
	}
	if event == nil {
		fmt.Println("Transaction Hash: not found before timeout")
		return nil
	}
	fmt.Printf("Transaction Hash: %s\n", event.TxHash.Hex())
	fmt.Printf("Block Number: %d\n", event.BlockNumber)
	fmt.Printf("Success: %t\n", event.Success)
	fmt.Printf("Actual Gas Cost: %s\n", event.ActualGasCost)
	return nil
}
