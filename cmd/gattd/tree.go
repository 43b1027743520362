package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"

	"github.com/srg/gattd/internal/gatt"
	"github.com/srg/gattd/internal/peripheral"
)

// treeCmd represents the tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the GATT tree built from the configuration",
	Long: `Builds the GATT tree from the configuration without touching the bus and
prints what BlueZ would see from GetManagedObjects. Every characteristic
value is read once, so command and Lua providers run.`,
	Args: cobra.NoArgs,
	RunE: runTree,
}

var treeFormat string

const (
	formatAuto  = "auto"
	formatTable = "table"
	formatJSON  = "json"
)

func init() {
	treeCmd.Flags().StringVarP(&treeFormat, "format", "f", formatAuto, "Output format (auto, table, json)")
}

// nodeProps is interface -> property -> value, in display order.
type nodeProps = orderedmap.OrderedMap[string, *orderedmap.OrderedMap[string, any]]

// snapshot is path -> nodeProps, in tree order.
type snapshot = orderedmap.OrderedMap[string, *nodeProps]

func runTree(cmd *cobra.Command, args []string) error {
	validFormats := []string{formatAuto, formatTable, formatJSON}
	isValidFormat := false
	for _, format := range validFormats {
		if treeFormat == format {
			isValidFormat = true
			break
		}
	}
	if !isValidFormat {
		return fmt.Errorf("invalid format '%s': must be one of %v", treeFormat, validFormats)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	tree, err := peripheral.BuildApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer tree.Close()
	tree.App.Freeze()

	snap, err := buildSnapshot(tree.App)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch resolveFormat(treeFormat, out) {
	case formatJSON:
		return displayTreeJSON(out, snap)
	default:
		return displayTreeTable(out, snap)
	}
}

// resolveFormat picks a table for terminals and JSON for pipes.
func resolveFormat(format string, w io.Writer) string {
	if format != formatAuto {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return formatTable
	}
	return formatJSON
}

// buildSnapshot enumerates app and orders the result by tree position, then by
// property name.
func buildSnapshot(app *gatt.Application) (*snapshot, error) {
	objects, err := app.Enumerate()
	if err != nil {
		return nil, err
	}

	snap := orderedmap.New[string, *nodeProps]()
	for _, n := range app.Nodes() {
		ifaces := orderedmap.New[string, *orderedmap.OrderedMap[string, any]]()
		for _, iface := range n.Interfaces() {
			props := objects[n.Path()][iface]
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)

			ordered := orderedmap.New[string, any]()
			for _, name := range names {
				ordered.Set(name, displayValue(props[name]))
			}
			ifaces.Set(iface, ordered)
		}
		snap.Set(string(n.Path()), ifaces)
	}
	return snap, nil
}

// displayValue turns D-Bus typed values into plain JSON-friendly ones. Byte
// values are shown as hex.
func displayValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return hex.EncodeToString(val)
	case dbus.ObjectPath:
		return string(val)
	case []dbus.ObjectPath:
		out := make([]string, len(val))
		for i, p := range val {
			out[i] = string(p)
		}
		return out
	default:
		return v
	}
}

func displayTreeJSON(w io.Writer, snap *snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tree: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func displayTreeTable(w io.Writer, snap *snapshot) error {
	if snap.Len() == 0 {
		_, err := fmt.Fprintln(w, "No services configured")
		return err
	}

	pathColor := color.New(color.FgCyan, color.Bold)
	ifaceColor := color.New(color.FgYellow)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for node := snap.Oldest(); node != nil; node = node.Next() {
		fmt.Fprintln(tw, pathColor.Sprint(node.Key))
		for iface := node.Value.Oldest(); iface != nil; iface = iface.Next() {
			fmt.Fprintf(tw, "  %s\n", ifaceColor.Sprint(iface.Key))
			for prop := iface.Value.Oldest(); prop != nil; prop = prop.Next() {
				fmt.Fprintf(tw, "    %s\t%s\n", prop.Key, formatCell(prop.Value))
			}
		}
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ", ")
	case string:
		if val == "" {
			return "-"
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}
