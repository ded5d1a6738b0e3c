// mpctl - operator CLI for a running MarketPilot daemon
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	rootCmd := &cobra.Command{
		Use:   "mpctl",
		Short: "Control a running MarketPilot daemon",
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8085", "Daemon base URL")

	rootCmd.AddCommand(
		queuesCmd(),
		approveCmd(),
		rejectCmd(),
		expertCmd(),
		holdCmd(),
		resumeCmd(),
		decisionsCmd(),
		profileCmd(),
		ledgerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func queuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queues [auto|approval|expert|held]",
		Short: "Show queue depths, or list one lane",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return getJSON("/api/v1/queues")
			}
			return getJSON("/api/v1/queues/" + args[0])
		},
	}
	return cmd
}

func approveCmd() *cobra.Command {
	var reasoning string
	cmd := &cobra.Command{
		Use:   "approve <action-id>",
		Short: "Approve a pending action (executes immediately)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/actions/"+args[0]+"/approve", map[string]string{
				"reasoning": reasoning,
			})
		},
	}
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Why the action is approved")
	return cmd
}

func rejectCmd() *cobra.Command {
	var reasoning string
	cmd := &cobra.Command{
		Use:   "reject <action-id>",
		Short: "Reject a pending or expert-queued action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/actions/"+args[0]+"/reject", map[string]string{
				"reasoning": reasoning,
			})
		},
	}
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Why the action is rejected")
	return cmd
}

func expertCmd() *cobra.Command {
	var (
		expertID  string
		verdict   string
		reasoning string
		modsJSON  string
	)
	cmd := &cobra.Command{
		Use:   "expert <action-id>",
		Short: "Submit an expert decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"expert_id": expertID,
				"verdict":   verdict,
				"reasoning": reasoning,
			}
			if modsJSON != "" {
				var mods map[string]interface{}
				if err := json.Unmarshal([]byte(modsJSON), &mods); err != nil {
					return fmt.Errorf("parse --modifications: %w", err)
				}
				body["modifications"] = mods
			}
			return postJSON("/api/v1/actions/"+args[0]+"/expert-decision", body)
		},
	}
	cmd.Flags().StringVar(&expertID, "expert", "", "Expert identifier")
	cmd.Flags().StringVar(&verdict, "verdict", "", "approved, modified, or rejected")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Review reasoning")
	cmd.Flags().StringVar(&modsJSON, "modifications", "", `JSON patch, e.g. '{"risk_level":0.2}'`)
	cmd.MarkFlagRequired("verdict")
	return cmd
}

func holdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hold <action-id>",
		Short: "Park an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/actions/"+args[0]+"/hold", struct{}{})
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <action-id>",
		Short: "Resume a held action (re-runs classification)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/actions/"+args[0]+"/resume", struct{}{})
		},
	}
}

func decisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions [decision-id]",
		Short: "List active decisions, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return getJSON("/api/v1/decisions")
			}
			return getJSON("/api/v1/decisions/" + args[0])
		},
	}

	complete := &cobra.Command{
		Use:   "complete <decision-id> <step-id>",
		Short: "Complete a decision step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/decisions/"+args[0]+"/steps/"+args[1]+"/complete", struct{}{})
		},
	}
	cmd.AddCommand(complete)
	return cmd
}

func profileCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "profile <client-id>",
		Short: "Show a client's autonomy profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if history {
				return getJSON("/api/v1/clients/" + args[0] + "/profile/history")
			}
			return getJSON("/api/v1/clients/" + args[0] + "/profile")
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "Show the full snapshot history")
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recent audit ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/ledger?limit=50")
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the ledger hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getJSON("/api/v1/ledger/verify")
		},
	}
	cmd.AddCommand(verify)
	return cmd
}

// --- HTTP helpers ---

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(path string) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func postJSON(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(string(data))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
