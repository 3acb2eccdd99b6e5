package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stablevault/cmd/internal/passphrase"
	"stablevault/config"
	"stablevault/crypto"
	"stablevault/services/cdpd/server"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	tokenCommand   = "token"
	assetCommand   = "asset-address"
	defaultPassEnv = "CDPCTL_KEYSTORE_PASS"
	defaultConfig  = "./cdpd.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case assetCommand:
		err = runAssetAddress(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExportEvents(os.Args[2:], os.Stdout)
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: cdpctl <command> [flags]

Commands:
  %s         generate an account key and write it to a keystore
  %s        print the account address stored in a keystore
  %s          sign an API bearer token for an account
  %s  print the derived ledger address of a token symbol
  %s  export the committed event log to a parquet file
`, keygenCommand, addressCommand, tokenCommand, assetCommand, exportCommand)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func loadAddress(keystorePath, passEnv string) (crypto.Address, error) {
	pass, err := passphrase.NewSource(passEnv).Get()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("failed to open keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := loadAddress(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, addr.String())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the cdpd config file")
	keystorePath := fs.String("keystore", "", "Keystore whose address becomes the token subject")
	subject := fs.String("subject", "", "Account address used as the token subject when no keystore is given")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	scopes := fs.String("scopes", server.ScopeWrite, "Space or comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var addr crypto.Address
	switch {
	case *keystorePath != "":
		addr, err = loadAddress(*keystorePath, *passEnv)
	case *subject != "":
		addr, err = crypto.DecodeAddress(*subject)
	default:
		err = errors.New("either --keystore or --subject is required")
	}
	if err != nil {
		return err
	}
	token, err := server.IssueToken(cfg.Auth.HMACSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.ScopeClaim, addr, splitScopes(*scopes), *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runAssetAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(assetCommand, flag.ContinueOnError)
	symbol := fs.String("symbol", "", "Token symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*symbol) == "" {
		return errors.New("--symbol is required")
	}
	fmt.Fprintln(out, crypto.AssetAddress(*symbol).String())
	return nil
}

func splitScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
