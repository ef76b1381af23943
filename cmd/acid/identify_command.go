package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"anime-identifier-go/internal/processor"
)

func newIdentifyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var timeoutSec int

	cmd := &cobra.Command{
		Use:   "identify <path|url>",
		Short: "Identify the character in one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc, err := ctx.processor(cmd)
			if err != nil {
				return err
			}
			res, runErr := proc.ProcessSource(cmd.Context(), args[0], time.Duration(timeoutSec)*time.Second)
			if asJSON {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderResult(res, newPainter(cmd.OutOrStdout())))
			}
			if runErr != nil {
				return fmt.Errorf("identify %s: %w", args[0], runErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Pipeline timeout in seconds (0 uses the configured value)")
	return cmd
}

func renderResult(res processor.Result, p painter) string {
	var b strings.Builder
	if res.Failed() {
		rows := [][]string{
			{"Source", res.Source},
			{"Status", p.bad("failed")},
			{"Stage", res.Stage},
			{"Kind", res.ErrorKind},
			{"Error", truncate(res.Error, 120)},
		}
		b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))
		b.WriteString("\n")
		return b.String()
	}

	rows := [][]string{
		{"Source", res.Source},
		{"Run", res.RunID},
		{"Status", p.ok("identified")},
		{"Character", res.Character.Name},
		{"Anime", res.Character.AnimeName},
		{"Confidence", fmt.Sprintf("%.2f", res.Identification.Confidence)},
		{"Description", truncate(res.Character.Description, 120)},
		{"Image", res.Character.ImageURL},
		{"Duration", (time.Duration(res.DurationMs) * time.Millisecond).String()},
	}
	if res.BBox != nil {
		bb := res.BBox
		rows = append(rows, []string{"Bounding box", fmt.Sprintf("%.0f,%.0f %.0f,%.0f", bb[0], bb[1], bb[2], bb[3])})
	}
	b.WriteString(renderTable([]string{"Field", "Value"}, rows, nil))
	b.WriteString("\n")

	switch {
	case res.VideosDegraded:
		fmt.Fprintf(&b, "%s %s\n", p.warn("Video search unavailable:"), truncate(res.VideoError, 120))
	case len(res.Videos) == 0:
		b.WriteString("No videos found\n")
	default:
		videoRows := make([][]string, 0, len(res.Videos))
		for i, v := range res.Videos {
			videoRows = append(videoRows, []string{
				fmt.Sprintf("%d", i+1),
				truncate(v.Title, 60),
				"https://www.youtube.com/watch?v=" + v.VideoID,
			})
		}
		b.WriteString(renderTable([]string{"#", "Title", "Link"}, videoRows, []columnAlignment{alignRight}))
		b.WriteString("\n")
	}
	return b.String()
}
