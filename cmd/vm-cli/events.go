package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var eventsContract string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List committed events of a contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		contract, err := parseAddress("contract", eventsContract)
		if err != nil {
			return err
		}
		engine, _, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		events, err := engine.Events(contract)
		if err != nil {
			return err
		}
		return printJSON(events)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsContract, "contract", "", "Contract address (required)")
	eventsCmd.MarkFlagRequired("contract")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployed contracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, err := openEngine()
		if err != nil {
			return err
		}
		defer engine.Close()

		addrs, err := engine.Contracts()
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			desc, err := engine.Descriptor(addr)
			if err != nil {
				fmt.Printf("%s\t<%v>\n", addr, err)
				continue
			}
			fmt.Printf("%s\t%s\t%s\n", addr, desc.Name, desc.Runtime)
		}
		return nil
	},
}
