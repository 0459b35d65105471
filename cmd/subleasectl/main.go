package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/sublease/internal/dns"
	"github.com/jmerrifield20/sublease/internal/identity"
	"github.com/jmerrifield20/sublease/internal/registrar"
	"github.com/jmerrifield20/sublease/internal/secrets"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "subleasectl",
	Short: "Operator tooling for the sublease server",
	Long: `subleasectl works with the same configuration as the sublease server
(sublease.yaml in configs/ or ., overridden by environment variables such as
SECRETS_ENCRYPTION_KEY and AUTH_JWT_SECRET).

It seals registrar credentials, checks them against the live registrar API,
lists zone records and mints bearer tokens for local testing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.SetConfigName("sublease")
			viper.SetConfigType("yaml")
			viper.AddConfigPath("configs")
			viper.AddConfigPath(".")
		}
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		viper.SetDefault("auth.token_ttl", "24h")
		viper.SetDefault("server.public_url", "http://localhost:8080")
		viper.SetDefault("registrar.timeout", "15s")

		if err := viper.ReadInConfig(); err != nil {
			var cfgNotFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &cfgNotFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/sublease.yaml)")

	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(challengeCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── credential helpers ───────────────────────────────────────────────────────

var (
	credRegistrar string
	credPairs     []string
	credSealed    string
	credDomain    string
)

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&credRegistrar, "registrar", "", "Registrar: cloudflare, route53 or namecheap")
	cmd.Flags().StringArrayVar(&credPairs, "cred", nil, "Credential field as key=value (repeatable)")
	cmd.Flags().StringVar(&credSealed, "sealed", "", "Sealed credential blob (alternative to --cred)")
	_ = cmd.MarkFlagRequired("registrar")
}

// parsePairs turns repeated key=value flags into a map.
func parsePairs(pairs []string) (map[string]string, error) {
	kv := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --cred %q: expected key=value", p)
		}
		kv[strings.TrimSpace(k)] = v
	}
	return kv, nil
}

func newCodec() (*secrets.Codec, error) {
	codec, err := secrets.NewCodec(viper.GetString("secrets.encryption_key"))
	if err != nil {
		return nil, fmt.Errorf("secrets.encryption_key: %w", err)
	}
	return codec, nil
}

func newFactory(codec *secrets.Codec) *registrar.Factory {
	return registrar.NewFactory(codec, registrar.Options{
		Timeout:           viper.GetDuration("registrar.timeout"),
		CloudflareBaseURL: viper.GetString("registrar.cloudflare_base_url"),
		Route53Endpoint:   viper.GetString("registrar.route53_endpoint"),
		NamecheapBaseURL:  viper.GetString("registrar.namecheap_base_url"),
	})
}

// plaintextCredentials returns the credential document from either --cred
// pairs or an unsealed --sealed blob.
func plaintextCredentials(tag registrar.Tag, codec *secrets.Codec) ([]byte, error) {
	switch {
	case credSealed != "" && len(credPairs) > 0:
		return nil, errors.New("use either --cred or --sealed, not both")
	case credSealed != "":
		raw, err := codec.Unseal(credSealed)
		if err != nil {
			return nil, fmt.Errorf("unseal: %w", err)
		}
		if _, err := registrar.ParseCredentials(tag, raw); err != nil {
			return nil, err
		}
		return raw, nil
	case len(credPairs) > 0:
		kv, err := parsePairs(credPairs)
		if err != nil {
			return nil, err
		}
		return registrar.CredentialsFromMap(tag, kv)
	default:
		return nil, errors.New("one of --cred or --sealed is required")
	}
}

// ── seal ─────────────────────────────────────────────────────────────────────

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal registrar credentials for storage",
	Example: `  subleasectl seal --registrar cloudflare --cred api_token=... --cred zone_id=...
  subleasectl seal --registrar route53 --cred access_key_id=... --cred secret_access_key=... --cred hosted_zone_id=...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := registrar.ParseTag(credRegistrar)
		if err != nil {
			return err
		}
		if credSealed != "" {
			return errors.New("seal takes --cred pairs only")
		}
		codec, err := newCodec()
		if err != nil {
			return err
		}
		raw, err := plaintextCredentials(tag, codec)
		if err != nil {
			return err
		}
		sealed, err := codec.Seal(raw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

func init() {
	addCredentialFlags(sealCmd)
}

// ── validate ─────────────────────────────────────────────────────────────────

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check credentials against the registrar API",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := registrar.ParseTag(credRegistrar)
		if err != nil {
			return err
		}
		codec, err := newCodec()
		if err != nil {
			return err
		}
		raw, err := plaintextCredentials(tag, codec)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		res := newFactory(codec).ValidateCredentials(ctx, tag, credDomain, raw)
		if !res.Valid {
			return fmt.Errorf("credentials rejected: %s", res.Error)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credentials valid for %s (%s)\n", credDomain, tag)
		return nil
	},
}

func init() {
	addCredentialFlags(validateCmd)
	validateCmd.Flags().StringVar(&credDomain, "domain", "", "Apex domain the credentials manage")
	_ = validateCmd.MarkFlagRequired("domain")
}

// ── records ──────────────────────────────────────────────────────────────────

var (
	recordsDomain string
	recordsType   string
	recordsJSON   bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List live DNS records of one kind for a domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := registrar.ParseTag(credRegistrar)
		if err != nil {
			return err
		}
		kind, err := registrar.ParseRecordType(recordsType)
		if err != nil {
			return err
		}
		codec, err := newCodec()
		if err != nil {
			return err
		}
		raw, err := plaintextCredentials(tag, codec)
		if err != nil {
			return err
		}
		client, err := newFactory(codec).ClientFromRaw(tag, recordsDomain, raw)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		records, err := client.ListRecords(ctx, kind)
		if err != nil {
			return err
		}

		if recordsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tVALUE\tTTL")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Type, r.Value, r.TTL)
		}
		return w.Flush()
	},
}

func init() {
	addCredentialFlags(recordsCmd)
	recordsCmd.Flags().StringVar(&recordsDomain, "domain", "", "Apex domain")
	recordsCmd.Flags().StringVar(&recordsType, "type", "A", "Record type: A, AAAA, CNAME, TXT, MX or NS")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "Print records as JSON")
	_ = recordsCmd.MarkFlagRequired("domain")
}

// ── challenge ────────────────────────────────────────────────────────────────

var (
	challengeDomain   string
	challengeToken    string
	challengeResolver string
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Print TXT instructions for a domain and check public visibility",
	Long: `Without --token a fresh verification token is generated. With --token the
public resolver is queried to see whether the TXT value is already visible.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch := &dns.Challenge{Domain: challengeDomain, Token: challengeToken}
		if ch.Token == "" {
			fresh, err := dns.NewChallenge(challengeDomain)
			if err != nil {
				return err
			}
			ch = fresh
		}

		in := ch.Instructions()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Record type: %s\nHost:        %s\nValue:       %s\n", in.RecordType, in.Host, in.Value)
		if in.Note != "" {
			fmt.Fprintf(out, "\n%s\n", in.Note)
		}

		if challengeToken == "" || challengeResolver == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		visible, err := dns.NewProbe(challengeResolver, 5*time.Second).Visible(ctx, in.Host, in.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nVisible via %s: %t\n", challengeResolver, visible)
		return nil
	},
}

func init() {
	challengeCmd.Flags().StringVar(&challengeDomain, "domain", "", "Apex domain")
	challengeCmd.Flags().StringVar(&challengeToken, "token", "", "Existing verification token")
	challengeCmd.Flags().StringVar(&challengeResolver, "resolver", "1.1.1.1:53", "Public resolver (host:port); empty skips the lookup")
	_ = challengeCmd.MarkFlagRequired("domain")
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenUserID string
	tokenEmail  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, err := identity.NewUserTokenIssuer(
			viper.GetString("auth.jwt_secret"),
			strings.TrimRight(viper.GetString("server.public_url"), "/"),
			viper.GetDuration("auth.token_ttl"),
		)
		if err != nil {
			return fmt.Errorf("auth.jwt_secret: %w", err)
		}
		tok, err := issuer.Issue(tokenUserID, tokenEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "Subject (user ID)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	_ = tokenCmd.MarkFlagRequired("user-id")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the subleasectl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "subleasectl %s\n", version)
	},
}
