package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewAssetCmd создаёт группу команд для работы с историей материализаций.
func NewAssetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Inspect and report asset materializations",
	}

	cmd.AddCommand(
		newAssetEventsCmd(clientFn, outputFn),
		newAssetLatestCmd(clientFn, outputFn),
		newAssetReportCmd(clientFn, outputFn),
	)

	return cmd
}

func newAssetEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events KEY",
		Short: "List materialization events of an asset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.AssetEvents(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"SEQ", "RUN_ID", "CODE_VERSION", "EXTERNAL", "TIMESTAMP"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{
					strconv.FormatInt(e.Seq, 10),
					e.RunID,
					e.CodeVersion,
					strconv.FormatBool(e.External),
					e.Timestamp,
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events")

	return cmd
}

func newAssetLatestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "latest KEY",
		Short: "Show the latest materialization of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			event, err := client.LatestAssetEvent(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"KEY", "SEQ", "RUN_ID", "CODE_VERSION", "EXTERNAL", "TIMESTAMP"},
				[][]string{{
					event.Key,
					strconv.FormatInt(event.Seq, 10),
					event.RunID,
					event.CodeVersion,
					strconv.FormatBool(event.External),
					event.Timestamp,
				}},
				event,
			)
			return nil
		},
	}
}

func newAssetReportCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var codeVersion string
	var meta []string

	cmd := &cobra.Command{
		Use:   "report KEY",
		Short: "Report an external materialization of a source asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ReportEventRequest{
				CodeVersion: codeVersion,
			}

			if len(meta) > 0 {
				req.Metadata = make(map[string]any)
				for _, kv := range meta {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid metadata format %q, expected KEY=VALUE", kv)
					}
					req.Metadata[parts[0]] = parts[1]
				}
			}

			event, err := client.ReportAsset(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Materialization recorded: %s seq=%d", event.Key, event.Seq))
			return nil
		},
	}

	cmd.Flags().StringVar(&codeVersion, "code-version", "", "Data version observed at the source")
	cmd.Flags().StringSliceVar(&meta, "meta", nil, "Event metadata as KEY=VALUE (repeatable)")

	return cmd
}
