package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/govm-net/cvm/lifecycle"
	"github.com/govm-net/cvm/types"
	"github.com/spf13/cobra"
)

var (
	contractHex string
	methodName  string
	argsJSON    string
	keyHex      string
	callerHex   string
	valueStr    string
	feeStr      string
	txNonce     uint64
	blockHeight uint64
	waitTimeout time.Duration
)

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Submit a signed transaction and include it in a block",
	Long: `Sign a transaction, pass it through admission and include it in a new block.
Example: vm-cli invoke --contract <addr> --method setValue --args '[42]' --key <hex>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := parseAddress("contract", contractHex)
		if err != nil {
			return err
		}
		callArgs, err := parseArgs(argsJSON)
		if err != nil {
			return err
		}
		key, err := loadKey()
		if err != nil {
			return err
		}
		env := &types.Envelope{
			Contract: contract,
			Method:   methodName,
			Args:     callArgs,
			Nonce:    txNonce,
		}
		if env.Value, err = parseBig("value", valueStr); err != nil {
			return err
		}
		if env.Fee, err = parseBig("fee", feeStr); err != nil {
			return err
		}
		if err := lifecycle.Sign(env, key); err != nil {
			return err
		}

		engine, cfg, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		coordinator, err := lifecycle.NewCoordinator(engine, nil, cfg.Lifecycle)
		if err != nil {
			return err
		}
		coordinator.Start()
		defer coordinator.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()

		ticket, err := coordinator.Submit(env)
		if err != nil {
			return err
		}
		if _, err := ticket.Wait(ctx, lifecycle.LevelPool); err != nil {
			return err
		}
		header := &core.Block{Height: blockHeight, Timestamp: time.Now().UnixMilli()}
		if _, err := coordinator.ProduceBlock(ctx, header); err != nil {
			return err
		}
		if _, err := ticket.Wait(ctx, lifecycle.LevelBlock); err != nil {
			return err
		}
		return printJSON(ticket.Receipt())
	},
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a pure or view method",
	Long: `Run a read-only method against committed state. Nothing is written.
Example: vm-cli query --contract <addr> --method getValue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := parseAddress("contract", contractHex)
		if err != nil {
			return err
		}
		callArgs, err := parseArgs(argsJSON)
		if err != nil {
			return err
		}
		var caller core.Address
		if callerHex != "" {
			if caller, err = parseAddress("caller", callerHex); err != nil {
				return err
			}
		}

		engine, _, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		res, err := engine.Query(context.Background(), api.Request{
			Contract: contract,
			Method:   methodName,
			Args:     callArgs,
			Caller:   caller,
			Header:   &core.Block{Height: blockHeight, Timestamp: time.Now().UnixMilli()},
		})
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func loadKey() (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		slog.Warn("No --key given, signing with a throwaway key", "sender", lifecycle.AddressOf(key))
		return key, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid --key: %w", err)
	}
	return key, nil
}

func parseBig(flag, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid --%s: %q", flag, s)
	}
	return v, nil
}

func init() {
	for _, cmd := range []*cobra.Command{invokeCmd, queryCmd} {
		cmd.Flags().StringVar(&contractHex, "contract", "", "Contract address (required)")
		cmd.Flags().StringVar(&methodName, "method", "", "Method name (required)")
		cmd.Flags().StringVar(&argsJSON, "args", "", "Arguments as a JSON array")
		cmd.Flags().Uint64Var(&blockHeight, "height", 1, "Block height")
		cmd.MarkFlagRequired("contract")
		cmd.MarkFlagRequired("method")
	}
	invokeCmd.Flags().StringVar(&keyHex, "key", "", "Hex secp256k1 private key of the sender")
	invokeCmd.Flags().StringVar(&valueStr, "value", "", "Attached value for payable methods")
	invokeCmd.Flags().StringVar(&feeStr, "fee", "", "Transaction fee")
	invokeCmd.Flags().Uint64Var(&txNonce, "nonce", 0, "Transaction nonce")
	invokeCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "How long to wait for inclusion")
	queryCmd.Flags().StringVar(&callerHex, "caller", "", "Claimed caller of view methods")
}
