package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"stablevault/core/types"
	"stablevault/crypto"
	"stablevault/observability/logging"
)

var errInvalid = errors.New("invalid configuration")

// Validate checks the configuration for consistency.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("%w: auth.hmac_secret or auth.hmac_secret_env must be set", errInvalid)
	}
	if len(cfg.Assets) == 0 {
		return fmt.Errorf("%w: at least one collateral asset must be configured", errInvalid)
	}
	symbols := make(map[string]crypto.Address, len(cfg.Assets)+1)
	stable, err := TokenAddress(cfg.Stablecoin)
	if err != nil {
		return fmt.Errorf("%w: stablecoin: %v", errInvalid, err)
	}
	symbols[strings.ToUpper(cfg.Stablecoin.Symbol)] = stable
	for _, asset := range cfg.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("%w: asset symbol required", errInvalid)
		}
		if _, dup := symbols[asset.Symbol]; dup {
			return fmt.Errorf("%w: duplicate token symbol %s", errInvalid, asset.Symbol)
		}
		addr, err := TokenAddress(asset)
		if err != nil {
			return fmt.Errorf("%w: %v", errInvalid, err)
		}
		symbols[asset.Symbol] = addr
	}
	names := make(map[string]struct{}, len(cfg.Oracle.Sources))
	for _, src := range cfg.Oracle.Sources {
		name := strings.TrimSpace(src.Name)
		if name == "" {
			return fmt.Errorf("%w: oracle source name required", errInvalid)
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("%w: duplicate oracle source %s", errInvalid, name)
		}
		names[name] = struct{}{}
		switch src.Type {
		case "static":
			if len(src.Prices) == 0 {
				return fmt.Errorf("%w: static source %s has no prices", errInvalid, name)
			}
		case "http":
			if _, err := url.Parse(strings.ReplaceAll(src.Endpoint, "{symbol}", "X")); err != nil || strings.TrimSpace(src.Endpoint) == "" {
				return fmt.Errorf("%w: http source %s needs a valid endpoint", errInvalid, name)
			}
		default:
			return fmt.Errorf("%w: oracle source %s has unknown type %q", errInvalid, name, src.Type)
		}
	}
	if len(cfg.Oracle.Sources) > 0 && cfg.Oracle.MinFeeds > len(cfg.Oracle.Sources) {
		return fmt.Errorf("%w: oracle.min_feeds %d exceeds %d sources", errInvalid, cfg.Oracle.MinFeeds, len(cfg.Oracle.Sources))
	}
	for i, alloc := range cfg.Genesis {
		if _, err := crypto.DecodeAddress(alloc.Holder); err != nil {
			return fmt.Errorf("%w: genesis[%d] holder: %v", errInvalid, i, err)
		}
		if _, ok := symbols[alloc.Asset]; !ok || alloc.Asset == strings.ToUpper(cfg.Stablecoin.Symbol) {
			return fmt.Errorf("%w: genesis[%d] references unknown collateral asset %q", errInvalid, i, alloc.Asset)
		}
		amount, err := types.ParseWad(alloc.Amount)
		if err != nil || amount.IsZero() {
			return fmt.Errorf("%w: genesis[%d] amount must be a positive raw integer", errInvalid, i)
		}
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: telemetry.sample_ratio must be within [0, 1]", errInvalid)
	}
	return nil
}

// Sanitized returns a copy safe to log, with secrets masked.
func (cfg Config) Sanitized() Config {
	out := cfg
	if out.Auth.HMACSecret != "" {
		out.Auth.HMACSecret = logging.MaskValue(out.Auth.HMACSecret)
	}
	if out.Telemetry.Headers != "" {
		out.Telemetry.Headers = logging.MaskValue(out.Telemetry.Headers)
	}
	if u, err := url.Parse(out.Storage.IndexDSN); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), logging.RedactedValue)
			out.Storage.IndexDSN = u.String()
		}
	}
	if len(cfg.Oracle.Sources) > 0 {
		out.Oracle.Sources = make([]SourceConfig, len(cfg.Oracle.Sources))
		for i, src := range cfg.Oracle.Sources {
			if u, err := url.Parse(src.Endpoint); err == nil && u.RawQuery != "" {
				u.RawQuery = logging.MaskValue(u.RawQuery)
				src.Endpoint = u.String()
			}
			out.Oracle.Sources[i] = src
		}
	}
	return out
}
