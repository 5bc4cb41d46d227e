package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewGraphCmd создаёт группу команд для управления графами ассетов.
func NewGraphCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Manage asset graphs",
	}

	cmd.AddCommand(
		newGraphSubmitCmd(clientFn, outputFn),
		newGraphListCmd(clientFn, outputFn),
		newGraphShowCmd(clientFn, outputFn),
		newGraphAssetsCmd(clientFn, outputFn),
		newGraphVersionsCmd(clientFn, outputFn),
		newGraphStaleCmd(clientFn, outputFn),
	)

	return cmd
}

func newGraphSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a declaration set as a new graph version",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read declarations file: %w", err)
			}

			// Валидируем что это валидный JSON
			if !json.Valid(data) {
				return fmt.Errorf("declarations file is not valid JSON")
			}

			resp, err := client.SubmitGraph(json.RawMessage(data))
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Graph %s registered as version %d", resp.Graph.Name, resp.Version.Version))
			out.Print(
				[]string{"ID", "NAME", "VERSION", "CREATED"},
				[][]string{{resp.Graph.ID, resp.Graph.Name, strconv.Itoa(resp.Version.Version), resp.Version.CreatedAt}},
				resp,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to declaration set JSON file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newGraphListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all graphs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			graphs, err := client.ListGraphs()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "CREATED"}
			rows := make([][]string, len(graphs))
			for i, g := range graphs {
				rows[i] = []string{g.ID, g.Name, g.CreatedAt}
			}

			out.Print(headers, rows, graphs)
			return nil
		},
	}
}

func newGraphShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show resolved graph summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			summary, err := client.GetGraph(args[0], version)
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "VERSION", "ASSETS", "STEPS", "GROUPS", "TOPO"},
				[][]string{{
					summary.ID,
					summary.Name,
					strconv.Itoa(summary.Version),
					strconv.Itoa(summary.Assets),
					strconv.Itoa(summary.Steps),
					strings.Join(summary.Groups, ","),
					strings.Join(summary.Topo, " "),
				}},
				summary,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Graph version (latest if not specified)")

	return cmd
}

func newGraphAssetsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "assets ID",
		Short: "List resolved graph assets in topological order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			nodes, err := client.ListGraphAssets(args[0], version)
			if err != nil {
				return err
			}

			headers := []string{"KEY", "GROUP", "SOURCE", "STEP", "DEPS"}
			rows := make([][]string, len(nodes))
			for i, n := range nodes {
				deps := make([]string, len(n.Deps))
				for j, d := range n.Deps {
					deps[j] = d.Upstream
				}
				rows[i] = []string{
					n.Key,
					n.Group,
					strconv.FormatBool(n.IsSource),
					n.StepID,
					strings.Join(deps, ","),
				}
			}

			out.Print(headers, rows, nodes)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Graph version (latest if not specified)")

	return cmd
}

func newGraphVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions ID",
		Short: "List graph versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListGraphVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"GRAPH_ID", "VERSION", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.GraphID, strconv.Itoa(v.Version), v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newGraphStaleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "stale ID",
		Short: "Show staleness report for graph assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.StaleReport(args[0], version)
			if err != nil {
				return err
			}

			headers := []string{"KEY", "STALE", "REASON", "DECLARED", "MATERIALIZED"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.Key,
					strconv.FormatBool(e.Stale),
					e.Reason,
					e.DeclaredVersion,
					e.MaterializedVersion,
				}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Graph version (latest if not specified)")

	return cmd
}
