package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jasonchiu/cloudhelper/core/keys"
	"github.com/jasonchiu/cloudhelper/core/profile"
	"github.com/jasonchiu/cloudhelper/core/record"
	"github.com/jasonchiu/cloudhelper/core/serverapi"
)

// stdout receives all command output.
var stdout io.Writer = os.Stdout

const callTimeout = 2 * time.Minute

func Run(args []string) error {
	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	switch args[0] {
	case "connect":
		return runConnect(args[1:])
	case "status":
		return runStatus(args[1:])
	case "add":
		return runAdd(args[1:])
	case "edit":
		return runEdit(args[1:])
	case "delete":
		return runDelete(args[1:])
	case "list":
		return runList(args[1:])
	case "call":
		return runCall(args[1:])
	case "keys":
		return runKeys(args[1:])
	case "config":
		return runConfig(args[1:])
	case "help", "--help", "-h":
		printRootUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage() {
	fmt.Fprintln(stdout, "cloudhelper - record gateway client")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintln(stdout, "  cloudhelper <command> [args]")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  connect               Select server, container and scope")
	fmt.Fprintln(stdout, "  status                Show profile, local key and server context")
	fmt.Fprintln(stdout, "  add                   Create a record")
	fmt.Fprintln(stdout, "  edit                  Replace a record's data")
	fmt.Fprintln(stdout, "  delete                Delete a record")
	fmt.Fprintln(stdout, "  list                  List the data of every record of a type")
	fmt.Fprintln(stdout, "  call                  Send a raw method call")
	fmt.Fprintln(stdout, "  keys init|show        Manage the local age key")
	fmt.Fprintln(stdout, "  config init|show      Manage gateway.toml")
}

func runConnect(args []string) error {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(stdout)
	server := fs.String("server", "", "cloudhelper server URL")
	container := fs.String("container", "", "container identifier, e.g. iCloud.com.example.app")
	scope := fs.String("scope", "private", "database scope: private or public")
	channelName := fs.String("channel", "", "channel name (defaults to cloud_helper)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("connect does not accept positional arguments")
	}

	p, path, err := loadProfileOptional()
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*server); v != "" {
		p.ServerURL = v
	}
	if p.ServerURL == "" {
		return errors.New("server URL is required (pass --server on first connect)")
	}
	if v := strings.TrimSpace(*channelName); v != "" {
		p.Channel = v
	}
	if v := strings.TrimSpace(*container); v != "" {
		p.Container = v
	}
	if p.Container == "" {
		return errors.New("--container is required")
	}
	sc, err := record.ParseScope(*scope)
	if err != nil {
		return err
	}
	p.Scope = sc.String()

	client, err := serverapi.New(p.ServerURL, p.ChannelName())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	if err := client.Initialize(ctx, p.Container, sc); err != nil {
		return err
	}
	if err := profile.Write(path, p); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Connected to %s\n", strings.TrimRight(p.ServerURL, "/"))
	fmt.Fprintf(stdout, "Container: %s (%s)\n", p.Container, p.Scope)
	fmt.Fprintf(stdout, "Profile saved: %s\n", path)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stdout)
	keyName := fs.String("key-name", "default", "local key profile name")
	offline := fs.Bool("offline", false, "do not contact the server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("status does not accept positional arguments")
	}

	keyPath, err := keys.DefaultKeyPath(*keyName)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Key path: %s\n", keyPath)
	if id, meta, err := keys.LoadIdentity(keyPath); err == nil {
		fmt.Fprintf(stdout, "Local key: present (%s)\n", meta.Label)
		fmt.Fprintf(stdout, "Fingerprint: %s\n", keys.Fingerprint(id.Recipient().String()))
	} else if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stdout, "Local key: missing")
	} else {
		return err
	}

	p, path, err := profile.LoadDefault()
	if errors.Is(err, profile.ErrNotFound) {
		fmt.Fprintln(stdout, "Profile: not found (run `cloudhelper connect`)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Profile: %s\n", path)
	fmt.Fprintf(stdout, "Server: %s\n", p.ServerURL)
	fmt.Fprintf(stdout, "Channel: %s\n", p.ChannelName())
	fmt.Fprintf(stdout, "Container: %s (%s)\n", p.Container, p.Scope)
	if *offline {
		return nil
	}

	client, err := serverapi.New(p.ServerURL, p.ChannelName())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	info, err := client.Context(ctx)
	if err != nil {
		fmt.Fprintf(stdout, "Server context: unavailable (%v)\n", err)
		return nil
	}
	if !info.Initialized {
		fmt.Fprintln(stdout, "Server context: not initialized")
		return nil
	}
	fmt.Fprintf(stdout, "Server context: %s (%s)\n", info.Container, info.Scope)
	return nil
}

func loadProfileOptional() (profile.Profile, string, error) {
	p, path, err := profile.LoadDefault()
	if err == nil {
		return p, path, nil
	}
	if errors.Is(err, profile.ErrNotFound) {
		return profile.Profile{}, path, nil
	}
	return profile.Profile{}, "", err
}

// connectedClient loads the profile and makes sure the server's Context is
// the one the profile selected, initializing it again when another client
// has switched it.
func connectedClient(ctx context.Context) (*serverapi.Client, error) {
	p, _, err := profile.LoadDefault()
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, errors.New("not connected (run `cloudhelper connect --server <url> --container <id>`)")
		}
		return nil, err
	}
	if !p.Initialized() {
		return nil, errors.New("profile has no container; run `cloudhelper connect`")
	}
	scope, err := record.ParseScope(p.Scope)
	if err != nil {
		return nil, err
	}
	client, err := serverapi.New(p.ServerURL, p.ChannelName())
	if err != nil {
		return nil, err
	}
	info, err := client.Context(ctx)
	if err != nil {
		return nil, err
	}
	if !info.Initialized || info.Container != p.Container || info.Scope != scope.String() {
		if err := client.Initialize(ctx, p.Container, scope); err != nil {
			return nil, err
		}
	}
	return client, nil
}
