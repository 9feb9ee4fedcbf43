/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/complianceguardian/guardian/adminclient"
	"github.com/complianceguardian/guardian/internal/adminapi"
	"github.com/complianceguardian/guardian/internal/app"
	"github.com/complianceguardian/guardian/log"
	"github.com/complianceguardian/guardian/ratelimit"
)

const adminTokenEnvVar = "GUARDIAN_ADMIN_TOKEN" // nolint:gosec // not a credential

type rateLimitFlags struct {
	*globalFlags
	server string
	token  string
	rule   string
}

// keyOperator resets and inspects counters either through the admin API of a running guardian
// or directly in the shared storage described by the configuration.
type keyOperator interface {
	Reset(ctx context.Context, rule, key string) error
	Entry(ctx context.Context, rule, key string) (ratelimit.Entry, bool, error)
	Rules(ctx context.Context) ([]adminclient.Rule, error)
	Close() error
}

func newRateLimitCommand(flags *globalFlags) *cobra.Command {
	rlFlags := &rateLimitFlags{globalFlags: flags}
	cmd := &cobra.Command{
		Use:     "ratelimit",
		Aliases: []string{"rate-limit"},
		Short:   "Inspect and reset rate limit counters",
		Long: `Inspect and reset rate limit counters.

With --server the commands call the admin API of a running guardian.
Otherwise they work directly with the shared storage (redis, postgres, mysql or sqlite) from the configuration.`,
	}
	cmd.PersistentFlags().StringVar(&rlFlags.server, "server", "", "base URL of a running guardian, e.g. http://localhost:8080")
	cmd.PersistentFlags().StringVar(&rlFlags.token, "token", os.Getenv(adminTokenEnvVar),
		"admin API bearer token (default from "+adminTokenEnvVar+")")
	cmd.PersistentFlags().StringVar(&rlFlags.rule, "rule", ratelimit.DefaultRuleName, "rule the key belongs to")

	cmd.AddCommand(newRateLimitResetCommand(rlFlags), newRateLimitShowCommand(rlFlags), newRateLimitRulesCommand(rlFlags))
	return cmd
}

func newRateLimitResetCommand(flags *rateLimitFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reset <key>...",
		Short: "Reset counters so the keys may send requests again immediately",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if dryRun {
				for _, key := range args {
					fmt.Fprintf(out, "Would reset key %q of rule %q\n", key, flags.rule)
				}
				return nil
			}
			op, err := newKeyOperator(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer op.Close() // nolint:errcheck

			var errs []error
			for _, key := range args {
				if resetErr := op.Reset(cmd.Context(), flags.rule, key); resetErr != nil {
					errs = append(errs, fmt.Errorf("reset key %q: %w", key, resetErr))
					continue
				}
				fmt.Fprintf(out, "Key %q of rule %q is reset\n", key, flags.rule)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be reset")
	return cmd
}

func newRateLimitShowCommand(flags *rateLimitFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show the counter of the key in the current window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := newKeyOperator(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer op.Close() // nolint:errcheck

			entry, found, err := op.Entry(cmd.Context(), flags.rule, args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q has no active window in rule %q", args[0], flags.rule)
			}
			return writeJSON(cmd.OutOrStdout(), entry)
		},
	}
}

func newRateLimitRulesCommand(flags *rateLimitFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List configured rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := newKeyOperator(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer op.Close() // nolint:errcheck

			rules, err := op.Rules(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rules)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newKeyOperator(ctx context.Context, flags *rateLimitFlags) (keyOperator, error) {
	if flags.server != "" {
		client, err := adminclient.New(adminclient.Config{BaseURL: flags.server, Token: flags.token})
		if err != nil {
			return nil, err
		}
		return &remoteKeyOperator{client: client}, nil
	}
	return newLocalKeyOperator(ctx, flags.configPath)
}

type remoteKeyOperator struct {
	client *adminclient.Client
}

func (o *remoteKeyOperator) Reset(ctx context.Context, rule, key string) error {
	return o.client.ResetKey(ctx, rule, key)
}

func (o *remoteKeyOperator) Entry(ctx context.Context, rule, key string) (ratelimit.Entry, bool, error) {
	entry, err := o.client.GetEntry(ctx, rule, key)
	if err != nil {
		var apiErr *adminclient.APIError
		// Unknown rules are reported as not found too, so only the entry message means "no window".
		if errors.As(err, &apiErr) && errors.Is(err, adminclient.ErrNotFound) && apiErr.Body.Message == adminapi.ErrMessageEntryNotFound {
			return ratelimit.Entry{}, false, nil
		}
		return ratelimit.Entry{}, false, err
	}
	return entry, true, nil
}

func (o *remoteKeyOperator) Rules(ctx context.Context) ([]adminclient.Rule, error) {
	return o.client.ListRules(ctx)
}

func (o *remoteKeyOperator) Close() error {
	return nil
}

type localKeyOperator struct {
	cfg      *app.Config
	storage  *app.Storage
	limiters map[string]ratelimit.Limiter
}

func newLocalKeyOperator(ctx context.Context, configPath string) (*localKeyOperator, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimit.Storage.Type == ratelimit.StorageMemory {
		return nil, fmt.Errorf("counters of %q storage live in the guardian process, use --server", ratelimit.StorageMemory)
	}
	storage, err := app.OpenStorage(ctx, cfg.RateLimit, log.NewDisabledLogger(), nil)
	if err != nil {
		return nil, err
	}
	limiters, err := app.NewLimiters(cfg.RateLimit, storage.Store, log.NewDisabledLogger(), app.LimiterMetrics{})
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return &localKeyOperator{cfg: cfg, storage: storage, limiters: limiters}, nil
}

func (o *localKeyOperator) limiter(rule string) (ratelimit.Limiter, error) {
	l, ok := o.limiters[rule]
	if !ok {
		return nil, fmt.Errorf("unknown rule %q", rule)
	}
	return l, nil
}

func (o *localKeyOperator) Reset(ctx context.Context, rule, key string) error {
	l, err := o.limiter(rule)
	if err != nil {
		return err
	}
	return l.Reset(ctx, key)
}

func (o *localKeyOperator) Entry(ctx context.Context, rule, key string) (ratelimit.Entry, bool, error) {
	l, err := o.limiter(rule)
	if err != nil {
		return ratelimit.Entry{}, false, err
	}
	inspector, ok := l.(ratelimit.Inspector)
	if !ok {
		return ratelimit.Entry{}, false, fmt.Errorf("rule %q cannot be inspected", rule)
	}
	return inspector.Entry(ctx, key)
}

func (o *localKeyOperator) Rules(context.Context) ([]adminclient.Rule, error) {
	rules := []adminclient.Rule{{
		Name:         ratelimit.DefaultRuleName,
		MaxRequests:  o.cfg.RateLimit.Policy.MaxRequests,
		WindowMillis: o.cfg.RateLimit.Policy.WindowMillis(),
	}}
	for _, rule := range o.cfg.RateLimit.Rules {
		rules = append(rules, adminclient.Rule{Name: rule.Name, MaxRequests: rule.MaxRequests, WindowMillis: rule.WindowMillis})
	}
	return rules, nil
}

func (o *localKeyOperator) Close() error {
	return o.storage.Close()
}
