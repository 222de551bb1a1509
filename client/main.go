package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/client/sossh"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var client *apiClient

var verbose bool

var gpumuxCmd = &cobra.Command{
	Use:   "gpumux",
	Short: "gpumux runs a queue of shell commands on the GPUs of a single machine.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		remote := lo.Must(cmd.Flags().GetString("remote"))

		host, port, _ := strings.Cut(remote, ":")
		if port == "" {
			port = fmt.Sprint(api.DefaultPort)
		}
		sshTunneling := lo.Must(cmd.Flags().GetBool("ssh-tunneling"))
		if (host == "127.0.0.1" || host == "localhost") && !cmd.Flags().Changed("ssh-tunneling") {
			sshTunneling = false
		}

		transport := http.DefaultTransport.(*http.Transport).Clone()
		if sshTunneling {
			tunnel := sossh.Tunnel{
				Host:     host,
				Port:     lo.Must(cmd.Flags().GetInt("ssh-port")),
				Username: lo.Must(cmd.Flags().GetString("ssh-username")),
			}
			// The server is reached on the loopback interface of the ssh host.
			transport.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
				return tunnel.DialContext(ctx, network, fmt.Sprintf("127.0.0.1:%s", port))
			}
		}

		client = newAPIClient(net.JoinHostPort(host, port), transport)
		if verbose {
			cmd.PrintErrf("Connecting to %s (ssh tunneling: %t)\n", remote, sshTunneling)
		}
		return nil
	},
}

func init() {
	gpumuxCmd.AddCommand(logsCmd)
	gpumuxCmd.AddCommand(queueCmd)
	gpumuxCmd.AddCommand(statusCmd)
	gpumuxCmd.AddCommand(topCmd)
	gpumuxCmd.AddCommand(versionCmd)

	defaultRemote := lo.Must(lo.Coalesce(os.Getenv("GPUMUX_REMOTE"), fmt.Sprintf("127.0.0.1:%d", api.DefaultPort)))

	gpumuxCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	gpumuxCmd.PersistentFlags().String("remote", defaultRemote, "the server remote address")
	gpumuxCmd.PersistentFlags().Bool("ssh-tunneling", true, "use ssh tunneling to connect to the server")
	gpumuxCmd.PersistentFlags().String("ssh-username", os.Getenv("USER"), "username to use for ssh tunneling")
	gpumuxCmd.PersistentFlags().Int("ssh-port", 22, "port to use for ssh tunneling")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gpumuxCmd.SetOut(os.Stdout)
	if err := gpumuxCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}
