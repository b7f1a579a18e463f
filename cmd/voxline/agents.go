package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/voxline/internal/agent"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect agent configurations",
	}
	cmd.AddCommand(newAgentsValidateCmd(), newAgentsListCmd())
	return cmd
}

func newAgentsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a YAML agent seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := agent.LoadSeedFile(args[0])
			if err != nil {
				return err
			}
			printAgents(cmd.OutOrStdout(), configs)
			fmt.Fprintf(cmd.OutOrStdout(), "%d agent(s) valid\n", len(configs))
			return nil
		},
	}
}

func newAgentsListCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the agents registered on a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/agents", nil)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: 10 * time.Second}
			res, err := client.Do(req)
			if err != nil {
				return err
			}
			defer res.Body.Close()
			body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
			if err != nil {
				return err
			}
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
			}
			var configs []agent.Config
			if err := json.Unmarshal(body, &configs); err != nil {
				return fmt.Errorf("decode agents: %w", err)
			}
			printAgents(cmd.OutOrStdout(), configs)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "server base URL")
	return cmd
}

func printAgents(out io.Writer, configs []agent.Config) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLANGUAGE\tVOICE\tLLM\tASR\tTTS")
	for _, c := range configs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.Language, c.Voice, c.Providers.LLM, c.Providers.ASR, c.Providers.TTS)
	}
	_ = tw.Flush()
}
