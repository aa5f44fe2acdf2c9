package commands

import (
	"github.com/spf13/cobra"

	"github.com/nimbusdw/nimbus-go/pkg/tlsconf"
)

var trustHost string

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Build and inspect TLS trust material",
	Long: `Build the trust material a connection would use from the current
configuration and report what it contains.

Examples:
  # System pool plus bundled CAs
  nimbusauth trust

  # Custom trust store
  NIMBUS_SSL_TRUSTSTORE_PATH=./corp.p12 NIMBUS_SSL_TRUSTSTORE_PASSWORD=pw nimbusauth trust`,
	RunE: runTrust,
}

func init() {
	trustCmd.Flags().StringVar(&trustHost, "host", "warehouse.example.com", "Host name to build the TLS config for")
}

func runTrust(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(nil)
	if err != nil {
		return err
	}

	anchors, err := tlsconf.Build(tlsconf.Options{
		TrustStorePath:     opts.SSLTrustStorePath,
		TrustStorePassword: opts.SSLTrustStorePassword,
		RootCertPath:       opts.SSLRootCert,
		Insecure:           opts.SSLInsecure,
		CertPath:           opts.SSLCert,
		KeyPath:            opts.SSLKey,
		SkipHostnameVerify: !opts.SSLHostnameVerify,
	})
	if err != nil {
		return err
	}

	tlsCfg := anchors.TLSConfig(trustHost)

	if anchors.Insecure() {
		cmd.Println("Mode:     INSECURE (certificate verification disabled)")
	} else {
		cmd.Println("Mode:     verified")
		cmd.Printf("Anchors:  %d\n", anchors.AnchorCount())
	}
	cmd.Printf("Host:     %s\n", trustHost)
	cmd.Printf("Hostname verification: %v\n", opts.SSLHostnameVerify)
	cmd.Printf("Minimum TLS version:   %x\n", tlsCfg.MinVersion)
	if opts.SSLCert != "" {
		cmd.Printf("Client identity:       %s (loaded at handshake)\n", opts.SSLCert)
	}
	return nil
}
