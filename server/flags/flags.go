package flags

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gammadia/gpumux/api"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
	Port      = "port"
	TraceFile = "trace-file"

	Gpus          = "gpus"
	Inventory     = "inventory"
	StaticCount   = "static-count"
	LogDir        = "logdir"
	Path          = "path"
	Py            = "py"
	Env           = "env"
	VisibilityVar = "visibility-var"
	TickInterval  = "tick-interval"
)

var flags = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

func init() {
	// Server
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.Int(Port, api.DefaultPort, "listening port")
	flags.String(TraceFile, "", "write traces to this file ('-' for stdout)")

	// Scheduling
	flags.String(Gpus, "0-255", "inclusive range of GPU ids to use (e.g. 0-3)")
	flags.String(Inventory, "nvidia", "resource inventory to use (nvidia, static)")
	flags.Int(StaticCount, 2, "number of resources reported by the static inventory")
	flags.String(LogDir, "gpumux", "directory holding the job queue, job records and logs, relative to --path")
	flags.String(Path, ".", "working directory of the jobs")
	flags.String(Py, "", "interpreter prepended to every command (e.g. python)")
	flags.StringToString(Env, nil, "extra environment variables exported to the jobs (PYTHONPATH defaults to .)")
	flags.String(VisibilityVar, "CUDA_VISIBLE_DEVICES", "environment variable restricting a job to its GPU")
	flags.Duration(TickInterval, 1*time.Second, "how often running jobs are reconciled")

	viper.SetEnvPrefix("gpumux")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}

// Init parses the command line. Bound values fall back to the environment, then to the defaults.
func Init() error {
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
