package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-gateways/app/gateway"
	"github.com/vibast-solutions/ms-go-gateways/app/provider"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
)

var merchantAccountID uint64

var testCredentialsCmd = &cobra.Command{
	Use:   "test-credentials",
	Short: "Check a merchant account's processor credentials",
	Run: func(_ *cobra.Command, _ []string) {
		if merchantAccountID == 0 {
			logrus.Fatal("--merchant is required")
		}
		_, gatewayService, cleanup := mustCreateGatewayService()
		err := gatewayService.TestCredentials(context.Background(), merchantAccountID)
		cleanup()
		if err != nil {
			fields := logrus.Fields{"merchant_account_id": merchantAccountID}
			if missing := missingFields(err); len(missing) > 0 {
				fields["missing_fields"] = strings.Join(missing, ",")
			}
			logrus.WithError(err).WithFields(fields).Error("Gateway credentials rejected")
			os.Exit(1)
		}
		logrus.WithField("merchant_account_id", merchantAccountID).Info("Gateway credentials are valid")
	},
}

var gatewaysCmd = &cobra.Command{
	Use:   "gateways",
	Short: "List the processor ids merchant accounts can be configured with",
	Run: func(_ *cobra.Command, _ []string) {
		registry := provider.NewRegistry(provider.Config{}, provider.Deps{
			Tokenizer: vault.NewTokenizer(vault.StaticDirectory{}, logrus.StandardLogger()),
			Logger:    logrus.StandardLogger(),
		})
		for _, id := range registry.Supported() {
			fmt.Println(id)
		}
	},
}

func init() {
	rootCmd.AddCommand(testCredentialsCmd)
	rootCmd.AddCommand(gatewaysCmd)

	testCredentialsCmd.Flags().Uint64Var(&merchantAccountID, "merchant", 0, "Merchant account id")
}

func missingFields(err error) []string {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return gwErr.Missing
	}
	return nil
}
