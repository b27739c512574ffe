package dumpctl

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var defaultBusAddr = envOr("DUMP_BUS_ADDR", "http://127.0.0.1:8081")

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Entrypoints returns the dumpctl command set, mounted at the root of
// the dumpctl binary.
func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		listCmd(),
		getCmd(),
		createCmd(),
		deleteCmd(),
		offloadCmd(),
	}
}

func busAddrFlag(cmd *cobra.Command) *string {
	return cmd.Flags().String("bus", defaultBusAddr, "bus server base URL")
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [family]",
		Short: "Lists catalog entries for a dump family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _ := cmd.Flags().GetString("bus")
			views, err := newClient(bus).list(args[0])
			if err != nil {
				return err
			}
			renderTable(views)
			return nil
		},
	}
	busAddrFlag(cmd)
	return cmd
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [family] [id]",
		Short: "Shows one catalog entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _ := cmd.Flags().GetString("bus")
			id, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return err
			}
			view, err := newClient(bus).get(args[0], uint32(id))
			if err != nil {
				return err
			}
			renderTable([]entryView{view})
			return nil
		},
	}
	busAddrFlag(cmd)
	return cmd
}

func createCmd() *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "create [family]",
		Short: "Requests a new dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _ := cmd.Flags().GetString("bus")
			objectPath, err := newClient(bus).create(args[0], params)
			if err != nil {
				return err
			}
			fmt.Println(objectPath)
			return nil
		},
	}
	busAddrFlag(cmd)
	cmd.Flags().StringToStringVar(&params, "param", nil, "creation parameter, repeatable (key=value)")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [family] [id]",
		Short: "Deletes a catalog entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _ := cmd.Flags().GetString("bus")
			id, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return err
			}
			return newClient(bus).delete(args[0], uint32(id))
		},
	}
	busAddrFlag(cmd)
	return cmd
}

func offloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offload [family] [id] [uri]",
		Short: "Marks an entry as offloaded to the given URI",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _ := cmd.Flags().GetString("bus")
			id, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return err
			}
			return newClient(bus).offload(args[0], uint32(id), args[2])
		},
	}
	busAddrFlag(cmd)
	return cmd
}

func renderTable(views []entryView) {
	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetBorder(isatty.IsTerminal(os.Stdout.Fd()))
	tbl.SetHeader([]string{"ID", "Status", "Progress", "Size", "File", "ObjectPath"})

	for _, v := range views {
		tbl.Append([]string{
			strconv.FormatUint(uint64(v.ID), 10),
			v.Status,
			strconv.Itoa(int(v.Progress)),
			strconv.FormatUint(v.Size, 10),
			v.File,
			v.ObjectPath,
		})
	}

	tbl.Render()
}
