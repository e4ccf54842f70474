package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/coinflip/internal/domain"
)

func bootstrapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Initialize the game with the key's address as admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, err := identityFlag(cmd, "fee-recipient")
			if err != nil {
				return err
			}
			rate, _ := cmd.Flags().GetUint64("fee-rate")
			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}
			cfg, err := c.Bootstrap(cmd.Context(), recipient, rate)
			if err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	}
	cmd.Flags().String("fee-recipient", "", "address receiving round fees")
	cmd.Flags().Uint64("fee-rate", 0, "fee rate in thousandths of the stake")
	_ = cmd.MarkFlagRequired("fee-recipient")
	return cmd
}

func updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the admin, fee recipient and fee rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipient, err := identityFlag(cmd, "fee-recipient")
			if err != nil {
				return err
			}
			rate, _ := cmd.Flags().GetUint64("fee-rate")

			var newAdmin *domain.Identity
			if cmd.Flags().Changed("new-admin") {
				admin, err := identityFlag(cmd, "new-admin")
				if err != nil {
					return err
				}
				newAdmin = &admin
			}

			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}
			cfg, err := c.UpdateConfig(cmd.Context(), newAdmin, recipient, rate)
			if err != nil {
				return err
			}
			return printJSON(cmd, cfg)
		},
	}
	cmd.Flags().String("new-admin", "", "hand the admin role to this address")
	cmd.Flags().String("fee-recipient", "", "address receiving round fees")
	cmd.Flags().Uint64("fee-rate", 0, "fee rate in thousandths of the stake")
	_ = cmd.MarkFlagRequired("fee-recipient")
	return cmd
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create a player account owned by the key's address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}
			acct, err := c.Register(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, acct)
		},
	}
}

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play <player-id> <heads|tails>",
		Short: "Play a round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prediction, err := parsePrediction(args[1])
			if err != nil {
				return err
			}
			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}

			// Unset stake and fee recipient default to the server's values.
			view, err := c.Config(cmd.Context())
			if err != nil {
				return err
			}
			if !view.Initialized || view.Config == nil {
				return domain.ErrNotInitialized
			}
			stake := view.Stake
			if s, _ := cmd.Flags().GetString("stake"); s != "" {
				if stake, err = domain.ParseAmount(s); err != nil {
					return err
				}
			}
			recipient := view.Config.FeeRecipient
			if cmd.Flags().Changed("fee-recipient") {
				if recipient, err = identityFlag(cmd, "fee-recipient"); err != nil {
					return err
				}
			}

			res, err := c.Play(cmd.Context(), args[0], prediction, stake, recipient)
			if err != nil {
				return err
			}
			outcome := "lost"
			if res.Round.Won {
				outcome = "won"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: predicted %s, resolution %d, reward %s\n",
				outcome, res.Round.Prediction, res.Round.ResolutionValue, domain.FormatAmount(res.Round.Reward))
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().String("stake", "", "stake in coins (default: the game stake)")
	cmd.Flags().String("fee-recipient", "", "fee recipient (default: the configured one)")
	return cmd
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <player-id>",
		Short: "Claim a pending reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}
			res, err := c.Claim(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <amount>",
		Short: "Withdraw coins from the reward pool (admin or fee recipient)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := domain.ParseAmount(args[0])
			if err != nil {
				return err
			}
			c, err := apiClient(cmd, true)
			if err != nil {
				return err
			}
			receipt, err := c.Withdraw(cmd.Context(), amount)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status and game configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(cmd, false)
			if err != nil {
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			view, err := c.Config(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"server": status, "game": view})
		},
	}
}

func poolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show the reward pool balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(cmd, false)
			if err != nil {
				return err
			}
			bal, err := c.Pool(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show a ledger balance (default: the key's address)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id domain.Identity
			if len(args) == 1 {
				var err error
				if id, err = domain.ParseIdentity(args[0]); err != nil {
					return err
				}
			} else {
				signer, err := loadSigner(cmd)
				if err != nil {
					return err
				}
				id = signer.Identity()
			}
			c, err := apiClient(cmd, false)
			if err != nil {
				return err
			}
			bal, err := c.Balance(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, bal)
		},
	}
}

func roundsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rounds <player-id>",
		Short: "List a player's rounds, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			c, err := apiClient(cmd, false)
			if err != nil {
				return err
			}
			rounds, err := c.Rounds(cmd.Context(), args[0], limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd, rounds)
		},
	}
	cmd.Flags().Int("limit", 20, "page size")
	cmd.Flags().Int("offset", 0, "page offset")
	return cmd
}

func identityFlag(cmd *cobra.Command, name string) (domain.Identity, error) {
	v, _ := cmd.Flags().GetString(name)
	id, err := domain.ParseIdentity(v)
	if err != nil {
		return "", fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

// parsePrediction accepts heads/tails (or h/t) and the numeric forms 1/0.
func parsePrediction(s string) (domain.Prediction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heads", "h":
		return domain.PredictionHeads, nil
	case "tails", "t":
		return domain.PredictionTails, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || !domain.Prediction(n).Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidPrediction, s)
	}
	return domain.Prediction(n), nil
}
