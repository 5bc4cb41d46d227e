package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage materialization runs",
	}

	cmd.AddCommand(
		newRunSubmitCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunOutcomesCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var keys []string
	var groups []string
	var upstream int
	var downstream int
	var parallelism int

	cmd := &cobra.Command{
		Use:   "submit GRAPH_ID",
		Short: "Submit a materialization run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.SubmitRun(SubmitRunRequest{
				GraphID: args[0],
				Version: version,
				Selection: SelectionRequest{
					Keys:       keys,
					Groups:     groups,
					Upstream:   upstream,
					Downstream: downstream,
				},
				Parallelism: parallelism,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run submitted: %s", run.ID))
			out.Print(
				[]string{"ID", "GRAPH_ID", "VERSION", "STATUS", "CREATED"},
				[][]string{{run.ID, run.GraphID, strconv.Itoa(run.Version), run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Graph version (latest if not specified)")
	cmd.Flags().StringSliceVar(&keys, "key", nil, "Asset key to select (repeatable)")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "Asset group to select (repeatable)")
	cmd.Flags().IntVar(&upstream, "upstream", 0, "Upstream closure depth, -1 for unlimited")
	cmd.Flags().IntVar(&downstream, "downstream", 0, "Downstream closure depth, -1 for unlimited")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Worker slots for this run (engine default if 0)")

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var graphID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				GraphID: graphID,
				Status:  status,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "GRAPH_ID", "VERSION", "STATUS", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.GraphID, strconv.Itoa(r.Version), r.Status, r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&graphID, "graph-id", "", "Filter by graph ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "GRAPH_ID", "VERSION", "STATUS", "ERROR", "CREATED"},
				[][]string{{run.ID, run.GraphID, strconv.Itoa(run.Version), run.Status, run.Error, run.CreatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancellation requested: %s", run.ID))
			return nil
		},
	}
}

func newRunOutcomesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes RUN_ID",
		Short: "List per-asset outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			detail, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if detail.Result == nil {
				return fmt.Errorf("run %s has no result yet", args[0])
			}

			headers := []string{"KEY", "STEP_ID", "STATUS", "ERROR"}
			rows := make([][]string, len(detail.Result.Outcomes))
			for i, o := range detail.Result.Outcomes {
				rows[i] = []string{o.Key, o.StepID, o.Status, o.Error}
			}

			out.Print(headers, rows, detail.Result.Outcomes)
			return nil
		},
	}
}
