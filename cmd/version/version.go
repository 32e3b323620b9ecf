package version

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/boneskull/midnight-smoker-sub006/internal/builtin"
	"github.com/boneskull/midnight-smoker-sub006/internal/flags/enum"
)

const (
	FlagFormat                = "format"
	FlagFormatShortHand       = "f"
	FlagFormatJSON            = "json"
	FlagFormatText            = "text"
	FlagFormatGoBuildInfo     = "gobuildinfo"
	FlagFormatGoBuildInfoJSON = "gobuildinfojson"
)

// BuildVersion overrides the module version detected from the build info.
// It can be set at build time with
//
//	-ldflags "-X github.com/boneskull/midnight-smoker-sub006/cmd/version.BuildVersion=1.2.3"
var BuildVersion = "n/a"

// Info is the build version split into its semantic parts.
type Info struct {
	Version    string `json:"version"`
	Major      string `json:"major"`
	Minor      string `json:"minor"`
	Patch      string `json:"patch"`
	PreRelease string `json:"prerelease,omitempty"`
	Meta       string `json:"meta,omitempty"`
	GoVersion  string `json:"goVersion"`
	Platform   string `json:"platform"`
	// Plugin is the version of the built-in plugin.
	Plugin string `json:"plugin"`
}

// GetInfo derives Info from the build info. A version that is not semver is
// kept as is with zero parts.
func GetInfo(bi *debug.BuildInfo) Info {
	info := Info{
		Version:   bi.Main.Version,
		Major:     "0",
		Minor:     "0",
		Patch:     "0",
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Plugin:    builtin.Version,
	}
	v, err := semver.NewVersion(bi.Main.Version)
	if err != nil {
		return info
	}
	info.Version = v.String()
	info.Major = strconv.FormatUint(v.Major(), 10)
	info.Minor = strconv.FormatUint(v.Minor(), 10)
	info.Patch = strconv.FormatUint(v.Patch(), 10)
	info.PreRelease = v.Prerelease()
	info.Meta = strings.TrimPrefix(v.Metadata(), "+")
	return info
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version of smoker",
		Long: fmt.Sprintf(`Print the build version of smoker.

With %[1]q (the default) only the version is printed. %[2]q prints the version
split into its semantic parts. %[3]q and %[4]q print the Go build information
as text or JSON.`, FlagFormatText, FlagFormatJSON, FlagFormatGoBuildInfo, FlagFormatGoBuildInfoJSON),
		Example: fmt.Sprintf(`smoker version --format %s`, FlagFormatJSON),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := enum.Get(cmd.Flags(), FlagFormat)
			if err != nil {
				return err
			}
			bi, ok := debug.ReadBuildInfo()
			if !ok {
				return fmt.Errorf("no build info available")
			}
			if BuildVersion != "n/a" {
				bi.Main.Version = BuildVersion
			}
			out := cmd.OutOrStdout()
			switch format {
			case FlagFormatText:
				_, err = fmt.Fprintln(out, GetInfo(bi).Version)
				return err
			case FlagFormatJSON:
				return json.NewEncoder(out).Encode(GetInfo(bi))
			case FlagFormatGoBuildInfo:
				_, err = io.Copy(out, strings.NewReader(bi.String()))
				return err
			case FlagFormatGoBuildInfoJSON:
				return json.NewEncoder(out).Encode(bi)
			default:
				return cmd.Help()
			}
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	enum.VarP(cmd.Flags(), FlagFormat, FlagFormatShortHand,
		[]string{FlagFormatText, FlagFormatJSON, FlagFormatGoBuildInfo, FlagFormatGoBuildInfoJSON}, "output format")
	return cmd
}
