// ABOUTME: Controller CLI for inspecting a marrow-enabled host process
// ABOUTME: Resolves types, pins objects, invokes methods, and reads members over the agent API

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/marrowdev/marrow/internal/wire"
)

const banner = `
 _ __ ___   __ _ _ __ _ __ _____      __      ___| |_| |
| '_ ' _ \ / _' | '__| '__/ _ \ \ /\ / /____ / __| __| |
| | | | | | (_| | |  | | | (_) \ V  V /_____| (__| |_| |
|_| |_| |_|\__,_|_|  |_|  \___/ \_/\_/       \___|\__|_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	client := NewClient(cfg.Agent.URL, cfg.Agent.Token)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		err = cmdStatus(ctx, client)
	case "register":
		err = cmdRegister(ctx, client, args)
	case "heap":
		err = cmdHeap(ctx, client, args)
	case "type":
		err = cmdType(ctx, client, args)
	case "dump":
		err = cmdDump(ctx, client, args)
	case "object":
		err = cmdObject(ctx, client, args)
	case "get":
		err = cmdGet(ctx, client, args)
	case "set":
		err = cmdSet(ctx, client, args)
	case "item":
		err = cmdItem(ctx, client, args)
	case "invoke":
		err = cmdInvoke(ctx, client, args)
	case "members":
		err = cmdMembers(ctx, client, args)
	case "collection":
		err = cmdCollection(ctx, client, args)
	case "unpin":
		err = cmdUnpin(ctx, client, args)
	case "shutdown":
		err = cmdShutdown(ctx, client)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: marrow-ctl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                          Agent liveness and pin count")
	fmt.Println("  register [name]                 Register this controller, print token")
	fmt.Println("  heap [type] [--hash]            Enumerate live objects")
	fmt.Println("  type <name>                     Resolve a type name")
	fmt.Println("  dump <name>                     Show a type's fields, methods, events")
	fmt.Println("  object <addr> <type>            Pin the object at an address")
	fmt.Println("  get <handle> <field>            Read a field")
	fmt.Println("  set <handle> <field> <value>    Write a field")
	fmt.Println("  item <handle> <key>             Read an element by index or key")
	fmt.Println("  invoke <handle> <method> [args] Call a method with primitive args")
	fmt.Println("  members <handle> <path>...      Read several member paths at once")
	fmt.Println("  collection <handle> <path>...   Read paths across every element")
	fmt.Println("  unpin <handle>                  Release a handle")
	fmt.Println("  shutdown                        Ask the agent to shut down")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  MARROW_CTL_CONFIG   Config path (default: ~/.config/marrow/ctl.toml)")
	fmt.Println("  MARROW_AGENT_URL    Agent URL when no config file exists")
	fmt.Println("  MARROW_TOKEN        Bearer token when auth is enabled")
	fmt.Println()
}

func parseHandle(s string) (wire.Handle, error) {
	// Base 0 accepts both decimal and 0x-prefixed hex.
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	return wire.Handle(v), nil
}

// formatValue renders a wire value for terminal output.
func formatValue(v wire.Value) string {
	switch v.Kind {
	case wire.KindNull:
		if v.Type != "" {
			return color.HiBlackString("<%s>", v.Type)
		}
		return color.HiBlackString("null")
	case wire.KindHandle:
		return fmt.Sprintf("%s %s", color.CyanString("0x%x", uint64(v.Handle)), color.HiBlackString(v.Type))
	default:
		return v.Raw
	}
}

func cmdStatus(ctx context.Context, client *Client) error {
	ping, err := client.Ping(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("● ")
	fmt.Printf("agent %s, %d pinned object(s)\n", ping.Status, ping.Pinned)
	return nil
}

func cmdRegister(ctx context.Context, client *Client, args []string) error {
	name := "marrow-ctl"
	if len(args) > 0 {
		name = args[0]
	}

	resp, err := client.Register(ctx, name)
	if err != nil {
		return err
	}

	fmt.Printf("client_id: %s\n", resp.ClientID)
	if resp.Token != "" {
		fmt.Printf("token:     %s\n", resp.Token)
		fmt.Println()
		color.Yellow("Export MARROW_TOKEN or add the token to ctl.toml for later commands.")
	}
	return nil
}

func cmdHeap(ctx context.Context, client *Client, args []string) error {
	var typeFilter string
	var withHash bool
	for _, a := range args {
		if a == "--hash" {
			withHash = true
		} else {
			typeFilter = a
		}
	}

	resp, err := client.Heap(ctx, typeFilter, withHash)
	if err != nil {
		return err
	}

	if len(resp.Records) == 0 {
		fmt.Println("no objects exposed")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if withHash {
		fmt.Fprintln(w, "ADDRESS\tTYPE\tHASH")
		for _, rec := range resp.Records {
			fmt.Fprintf(w, "0x%x\t%s\t%#x\n", rec.Address, rec.TypeName, rec.Hash)
		}
	} else {
		fmt.Fprintln(w, "ADDRESS\tTYPE")
		for _, rec := range resp.Records {
			fmt.Fprintf(w, "0x%x\t%s\n", rec.Address, rec.TypeName)
		}
	}
	return w.Flush()
}

func cmdType(ctx context.Context, client *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marrow-ctl type <name>")
	}

	resp, err := client.ResolveType(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("name:   %s\n", resp.Name)
	fmt.Printf("module: %s\n", resp.Module)
	return nil
}

func cmdDump(ctx context.Context, client *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marrow-ctl dump <name>")
	}

	resp, err := client.DumpType(ctx, args[0])
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Printf("%s", resp.Name)
	color.New(color.FgHiBlack).Printf("  (%s)\n", resp.Module)

	if len(resp.Fields) > 0 {
		yellow.Println("\nFields:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, f := range resp.Fields {
			fmt.Fprintf(w, "  %s\t%s\n", f.Name, f.Type)
		}
		w.Flush()
	}

	if len(resp.Methods) > 0 {
		yellow.Println("\nMethods:")
		for _, m := range resp.Methods {
			sig := m.Name
			if len(m.TypeParams) > 0 {
				sig += "[" + strings.Join(m.TypeParams, ", ") + "]"
			}
			sig += "(" + strings.Join(m.Params, ", ") + ")"
			if len(m.Returns) > 0 {
				sig += " " + strings.Join(m.Returns, ", ")
			}
			fmt.Printf("  %s\n", sig)
		}
	}

	if len(resp.Events) > 0 {
		yellow.Println("\nEvents:")
		for _, e := range resp.Events {
			fmt.Printf("  %s\n", e)
		}
	}
	return nil
}

func cmdObject(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl object <addr> <type>")
	}

	addr, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[0], err)
	}

	resp, err := client.Object(ctx, wire.ObjectRequest{Address: addr, TypeName: args[1]})
	if err != nil {
		return err
	}

	fmt.Printf("handle: 0x%x\n", uint64(resp.Handle))
	fmt.Printf("type:   %s\n", resp.TypeName)
	return nil
}

func cmdGet(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl get <handle> <field>")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	resp, err := client.GetField(ctx, h, args[1])
	if err != nil {
		return err
	}

	fmt.Println(formatValue(resp.Value))
	return nil
}

func cmdSet(ctx context.Context, client *Client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: marrow-ctl set <handle> <field> <value>")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	resp, err := client.SetField(ctx, h, args[1], wire.Value{Kind: wire.KindPrimitive, Raw: args[2]})
	if err != nil {
		return err
	}

	fmt.Println(formatValue(resp.Value))
	return nil
}

func cmdItem(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl item <handle> <key>")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	resp, err := client.GetItem(ctx, h, wire.Value{Kind: wire.KindPrimitive, Raw: args[1]})
	if err != nil {
		return err
	}

	fmt.Println(formatValue(resp.Value))
	return nil
}

func cmdInvoke(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl invoke <handle> <method> [args...]")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	req := wire.InvokeRequest{Handle: h, Method: args[1]}
	for _, a := range args[2:] {
		req.Args = append(req.Args, wire.Value{Kind: wire.KindPrimitive, Raw: a})
	}

	resp, err := client.Invoke(ctx, req)
	if err != nil {
		return err
	}

	if resp.Void {
		color.HiBlack("(void)")
		return nil
	}
	fmt.Println(formatValue(resp.Result))
	return nil
}

func cmdMembers(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl members <handle> <path>...")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	resp, err := client.BatchMembers(ctx, h, args[1:])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, res := range resp.Results {
		if res.Error != "" {
			fmt.Fprintf(w, "%s\t%s\n", res.Path, color.RedString("! %s", res.Error))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", res.Path, formatValue(res.Value))
	}
	return w.Flush()
}

func cmdCollection(ctx context.Context, client *Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: marrow-ctl collection <handle> <path>...")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	resp, err := client.BatchCollection(ctx, h, args[1:])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, el := range resp.Elements {
		for _, res := range el.Results {
			if res.Error != "" {
				fmt.Fprintf(w, "[%d]\t%s\t%s\n", el.Index, res.Path, color.RedString("! %s", res.Error))
				continue
			}
			fmt.Fprintf(w, "[%d]\t%s\t%s\n", el.Index, res.Path, formatValue(res.Value))
		}
	}
	return w.Flush()
}

func cmdUnpin(ctx context.Context, client *Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: marrow-ctl unpin <handle>")
	}

	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}

	if err := client.Unpin(ctx, h); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdShutdown(ctx context.Context, client *Client) error {
	if err := client.Die(ctx); err != nil {
		return err
	}
	fmt.Println("agent shutting down")
	return nil
}
