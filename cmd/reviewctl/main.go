package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mewiskl/zama-Talklet-Review/internal/cipher"
	"github.com/mewiskl/zama-Talklet-Review/internal/config"
)

var (
	apiFlag      string
	callerFlag   string
	proofKeyFlag string
	rootCmd      = &cobra.Command{
		Use:           "reviewctl",
		Short:         "CLI client for the Talklet review service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newAPIClient() *client { return newClient(apiFlag, callerFlag) }

// idCmd builds a command taking a session id as its first argument.
func idCmd(use, short string, extraArgs cobra.PositionalArgs, run func(cmd *cobra.Command, c *client, args []string) error) *cobra.Command {
	if extraArgs == nil {
		extraArgs = cobra.ExactArgs(1)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  extraArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, newAPIClient(), args)
		},
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", envOr("TALKLET_API", "http://localhost:8080"), "Review service base URL")
	rootCmd.PersistentFlags().StringVarP(&callerFlag, "caller", "c", os.Getenv("TALKLET_CALLER"), "Caller address sent as X-Caller-Address")
	rootCmd.PersistentFlags().StringVar(&proofKeyFlag, "proof-key", envOr("TALKLET_INPUT_PROOF_KEY", config.DevInputProofKey), "Hex input proof key")

	// create
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a review session (caller becomes organizer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			speaker, _ := cmd.Flags().GetString("speaker")
			attendees, _ := cmd.Flags().GetStringSlice("attendee")
			return runCreate(newAPIClient(), title, speaker, attendees, os.Stdout)
		},
	}
	createCmd.Flags().StringP("title", "t", "", "Talk title (required)")
	createCmd.Flags().StringP("speaker", "s", "", "Speaker address (required)")
	createCmd.Flags().StringSlice("attendee", nil, "Attendee address; repeat for more, omit for a public session")
	rootCmd.AddCommand(createCmd)

	rootCmd.AddCommand(idCmd("authorize <session> <address>...", "Authorize attendees", cobra.MinimumNArgs(2),
		func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runAuthorize(c, id, args[1:], os.Stdout)
		}))

	// submit
	submitCmd := idCmd("submit <session>", "Encrypt and submit a review", nil,
		func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			binder, err := cipher.NewInputBinderHex(proofKeyFlag)
			if err != nil {
				return err
			}
			var r ratings
			r.Clarity, _ = cmd.Flags().GetUint16("clarity")
			r.Innovation, _ = cmd.Flags().GetUint16("innovation")
			r.Inspiration, _ = cmd.Flags().GetUint16("inspiration")
			tags, _ := cmd.Flags().GetUint8("tags")
			qa, _ := cmd.Flags().GetInt64("qa")
			return runSubmit(c, callerFlag, binder, id, r, tags, qa, os.Stdout)
		})
	submitCmd.Flags().Uint16("clarity", 0, "Clarity rating 1-10")
	submitCmd.Flags().Uint16("innovation", 0, "Innovation rating 1-10")
	submitCmd.Flags().Uint16("inspiration", 0, "Inspiration rating 1-10")
	submitCmd.Flags().Uint8("tags", 0, "Tag bitmask")
	submitCmd.Flags().Int64("qa", 0, "Q&A duration in seconds")
	rootCmd.AddCommand(submitCmd)

	rootCmd.AddCommand(idCmd("close <session>", "Close a session for review", nil,
		func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runClose(c, id, os.Stdout)
		}))

	// request-decryption / renew-grant
	for _, g := range []struct {
		use, short, method string
	}{
		{"request-decryption <session>", "Grant the oracle a decryption window", http.MethodPost},
		{"renew-grant <session>", "Replace the decryption window and re-notify the oracle", http.MethodPut},
	} {
		method := g.method
		grantCmd := idCmd(g.use, g.short, nil, func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			startRaw, _ := cmd.Flags().GetString("start")
			days, _ := cmd.Flags().GetInt("days")
			start := time.Now()
			if startRaw != "" {
				if start, err = time.Parse(time.RFC3339, startRaw); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}
			return runGrant(c, method, id, start, days, os.Stdout)
		})
		grantCmd.Flags().String("start", "", "Grant start (RFC3339, default now)")
		grantCmd.Flags().Int("days", 7, "Grant duration in days")
		rootCmd.AddCommand(grantCmd)
	}

	rootCmd.AddCommand(idCmd("commit-scores <session>", "Commit the oracle's attested scores", nil,
		func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runCommitScores(c, id, os.Stdout)
		}))

	// read-only views
	for _, v := range []struct{ use, short, suffix string }{
		{"get <session>", "Show a session", ""},
		{"averages <session>", "Show decrypted averages", "averages"},
		{"handles <session>", "Show the encrypted accumulator handles", "handles"},
		{"attendees <session>", "List authorized attendees", "attendees"},
	} {
		suffix := v.suffix
		rootCmd.AddCommand(idCmd(v.use, v.short, nil, func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runShow(c, sessionPath(id, suffix), os.Stdout)
		}))
	}
	rootCmd.AddCommand(idCmd("status <session> <address>", "Show an attendee's authorization and review status", cobra.ExactArgs(2),
		func(cmd *cobra.Command, c *client, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runShow(c, sessionPath(id, "attendees/"+args[1]), os.Stdout)
		}))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Show the number of sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(newAPIClient(), "/api/sessions/count", os.Stdout)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
