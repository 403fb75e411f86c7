package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewBuildCmd создаёт группу команд для управления сборками.
func NewBuildCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Manage index image builds",
	}

	cmd.AddCommand(
		newBuildAddCmd(clientFn, outputFn),
		newBuildShowCmd(clientFn, outputFn),
		newBuildListCmd(clientFn, outputFn),
		newBuildWaitCmd(clientFn, outputFn),
	)

	return cmd
}

func newBuildAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateBuildRequest
	var wait bool
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add bundles to a new multi-arch index image",
		Example: `  iib build add --bundle quay.io/ns/bundle:v1 --binary-image quay.io/ns/opm:latest --add-arch amd64 --add-arch s390x
  iib build add --bundle quay.io/ns/bundle:v1 --binary-image quay.io/ns/opm:latest --from-index quay.io/ns/index:v4.5 --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			build, err := client.CreateBuild(req)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Build %d created", build.ID))

			if wait {
				build, err = client.WaitBuild(build.ID, interval, timeout)
				if err != nil {
					return err
				}
			}

			printBuild(out, build)
			return buildError(build)
		},
	}

	cmd.Flags().StringSliceVar(&req.Bundles, "bundle", nil, "Bundle pull spec (repeatable)")
	cmd.Flags().StringVar(&req.BinaryImage, "binary-image", "", "Image providing the opm binary")
	cmd.Flags().StringVar(&req.FromIndex, "from-index", "", "Existing index image to add the bundles to")
	cmd.Flags().StringSliceVar(&req.AddArches, "add-arch", nil, "Arch to build in addition to the from-index arches (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the build to finish")
	addWaitFlags(cmd, &interval, &timeout)

	_ = cmd.MarkFlagRequired("bundle")
	_ = cmd.MarkFlagRequired("binary-image")

	return cmd
}

func newBuildShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			build, err := clientFn().GetBuild(id)
			if err != nil {
				return err
			}

			printBuild(outputFn(), build)
			return nil
		},
	}
}

func newBuildListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListBuildsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			builds, err := clientFn().ListBuilds(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATE", "ARCHES", "INDEX_IMAGE", "UPDATED"}
			rows := make([][]string, len(builds))
			for i, b := range builds {
				rows[i] = []string{
					strconv.FormatInt(b.ID, 10),
					b.State,
					strings.Join(b.Arches, ","),
					b.IndexImage,
					b.UpdatedAt,
				}
			}

			outputFn().Print(headers, rows, builds)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state (queued, in_progress, complete, failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of results to skip")

	return cmd
}

func newBuildWaitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var interval, timeout time.Duration

	cmd := &cobra.Command{
		Use:   "wait ID",
		Short: "Wait for a build to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			build, err := clientFn().WaitBuild(id, interval, timeout)
			if err != nil {
				return err
			}

			printBuild(outputFn(), build)
			return buildError(build)
		},
	}

	addWaitFlags(cmd, &interval, &timeout)
	return cmd
}

func addWaitFlags(cmd *cobra.Command, interval, timeout *time.Duration) {
	cmd.Flags().DurationVar(interval, "interval", 5*time.Second, "Polling interval")
	cmd.Flags().DurationVar(timeout, "timeout", 0, "Give up after this long (0 waits forever)")
}

// printBuild выводит один запрос: таблицу ключ-значение или JSON.
func printBuild(out *Output, b *BuildResponse) {
	headers := []string{"FIELD", "VALUE"}
	rows := [][]string{
		{"ID", strconv.FormatInt(b.ID, 10)},
		{"State", b.State},
		{"Reason", b.StateReason},
		{"Bundles", strings.Join(b.Bundles, ",")},
		{"Binary image", b.BinaryImage},
	}
	if b.BinaryImageResolved != "" {
		rows = append(rows, []string{"Binary image (resolved)", b.BinaryImageResolved})
	}
	if b.FromIndex != "" {
		rows = append(rows, []string{"From index", b.FromIndex})
	}
	if b.FromIndexResolved != "" {
		rows = append(rows, []string{"From index (resolved)", b.FromIndexResolved})
	}
	if len(b.AddArches) > 0 {
		rows = append(rows, []string{"Add arches", strings.Join(b.AddArches, ",")})
	}
	rows = append(rows, []string{"Arches built", strings.Join(b.Arches, ",")})
	if b.IndexImage != "" {
		rows = append(rows, []string{"Index image", b.IndexImage})
	}
	rows = append(rows,
		[]string{"Created", b.CreatedAt},
		[]string{"Updated", b.UpdatedAt},
	)

	out.Print(headers, rows, b)
}

// buildError превращает failed в ненулевой код выхода.
func buildError(b *BuildResponse) error {
	if b.State == "failed" {
		return fmt.Errorf("build %d failed: %s", b.ID, b.StateReason)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid build id %q", s)
	}
	return id, nil
}
