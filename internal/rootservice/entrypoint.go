package rootservice

import (
	"fmt"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/ossignal"
	"github.com/function61/gokit/stopper"
	"github.com/function61/gokit/systemdinstaller"
	"github.com/spf13/cobra"

	"github.com/openbmc/dump-manager/internal/config"
	"github.com/openbmc/dump-manager/internal/logtee"
)

// Entrypoint builds the "serve"/"install" cobra command tree: a
// long-running serve command guarded by an interrupt-or-terminate
// handler, plus a systemd-unit installer.
func Entrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the dump manager daemon",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			logTail := logtee.NewStringTail(200)

			rootLogger := logex.StandardLoggerTo(logtee.NewLineSplitterTee(os.Stderr, func(line string) {
				logTail.Write(line)
			}))

			workers := stopper.NewManager()
			go func() {
				logex.Levels(logex.Prefix("main", rootLogger)).Info.Printf(
					"got %s; stopping",
					<-ossignal.InterruptOrTerminate())

				workers.StopAllWorkersAndWait()
			}()

			if err := Run(config.FromEnv(), rootLogger, logTail, workers.Stopper()); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Installs a systemd unit file so the daemon starts on boot",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			serviceFile := systemdinstaller.SystemdServiceFile(
				"dumpmgrd",
				"OpenBMC dump manager",
				systemdinstaller.Args("serve"),
				systemdinstaller.Docs("https://github.com/openbmc/phosphor-debug-collector"),
				systemdinstaller.RequireNetworkOnline)

			if err := systemdinstaller.Install(serviceFile); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			fmt.Println(systemdinstaller.GetHints(serviceFile))
		},
	})

	return cmd
}
