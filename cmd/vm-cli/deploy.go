package main

import (
	"context"
	"fmt"
	"os"

	"github.com/govm-net/cvm/abi"
	"github.com/govm-net/cvm/api"
	"github.com/govm-net/cvm/core"
	"github.com/spf13/cobra"
)

var (
	sourceFile   string
	manifestFile string
	deployerHex  string
	deployNonce  uint64
	deployHeight uint64
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a smart contract",
	Long: `Deploy a smart contract with its manifest.
Example: vm-cli deploy -f counter.js -m counter.json --deployer 0x01`,
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := os.ReadFile(sourceFile)
		if err != nil {
			return fmt.Errorf("failed to read source file: %w", err)
		}
		data, err := os.ReadFile(manifestFile)
		if err != nil {
			return fmt.Errorf("failed to read manifest file: %w", err)
		}
		manifest, err := abi.ParseManifest(data)
		if err != nil {
			return err
		}
		var deployer core.Address
		if deployerHex != "" {
			if deployer, err = parseAddress("deployer", deployerHex); err != nil {
				return err
			}
		}

		engine, _, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		desc, err := engine.Deploy(context.Background(), api.DeployRequest{
			Manifest: manifest,
			Code:     code,
			Deployer: deployer,
			Nonce:    deployNonce,
			Height:   deployHeight,
		})
		if err != nil {
			return fmt.Errorf("failed to deploy contract: %w", err)
		}

		fmt.Printf("Contract deployed successfully!\n")
		fmt.Printf("Contract address: %s\n", desc.Address)
		return printJSON(desc)
	},
}

func init() {
	deployCmd.Flags().StringVarP(&sourceFile, "file", "f", "", "Contract code file (required)")
	deployCmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "Contract manifest file (required)")
	deployCmd.Flags().StringVar(&deployerHex, "deployer", "", "Deployer address")
	deployCmd.Flags().Uint64Var(&deployNonce, "nonce", 0, "Deployer nonce used to derive the address")
	deployCmd.Flags().Uint64Var(&deployHeight, "height", 0, "Deployment block height")
	deployCmd.MarkFlagRequired("file")
	deployCmd.MarkFlagRequired("manifest")
}
