package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/klaki892/chunked-dc/cli/render"
	"github.com/klaki892/chunked-dc/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version       string `json:"version"`
	RecordVersion string `json:"record_version"`
	Commit        string `json:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c, os.Stdout)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		return r.Render(VersionResponse{
			Version:       types.Version,
			RecordVersion: types.RecordVersion,
			Commit:        commit,
		})
	}
}
