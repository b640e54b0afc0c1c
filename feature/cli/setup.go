package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jasonchiu/cloudhelper/core/config"
	"github.com/jasonchiu/cloudhelper/core/keys"
)

func runKeys(args []string) error {
	if len(args) == 0 {
		printKeysUsage()
		return nil
	}
	switch args[0] {
	case "init":
		return runKeysInit(args[1:])
	case "show":
		return runKeysShow(args[1:])
	case "help", "--help", "-h":
		printKeysUsage()
		return nil
	default:
		return fmt.Errorf("unknown keys command %q", args[0])
	}
}

func printKeysUsage() {
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintln(stdout, "  cloudhelper keys init [--name <label>] [--key-name default] [--force]")
	fmt.Fprintln(stdout, "  cloudhelper keys show [--key-name default]")
}

func runKeysInit(args []string) error {
	fs := flag.NewFlagSet("keys init", flag.ContinueOnError)
	fs.SetOutput(stdout)
	name := fs.String("name", "", "key label (defaults to hostname)")
	keyName := fs.String("key-name", "default", "local key profile name")
	force := fs.Bool("force", false, "overwrite existing key if present")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("keys init does not accept positional arguments")
	}

	label := strings.TrimSpace(*name)
	if label == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			label = "cloudhelper"
		} else {
			label = host
		}
	}

	generated, err := keys.Generate(label)
	if err != nil {
		return err
	}
	path, err := keys.DefaultKeyPath(*keyName)
	if err != nil {
		return err
	}
	if err := keys.WriteIdentity(path, generated, *force); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Created key: %s\n", path)
	fmt.Fprintf(stdout, "Label: %s\n", generated.Label)
	fmt.Fprintf(stdout, "Public key: %s\n", generated.Recipient.String())
	fmt.Fprintf(stdout, "Fingerprint: %s\n", keys.Fingerprint(generated.Recipient.String()))
	return nil
}

func runKeysShow(args []string) error {
	fs := flag.NewFlagSet("keys show", flag.ContinueOnError)
	fs.SetOutput(stdout)
	keyName := fs.String("key-name", "default", "local key profile name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("keys show does not accept positional arguments")
	}
	path, err := keys.DefaultKeyPath(*keyName)
	if err != nil {
		return err
	}
	id, meta, err := keys.LoadIdentity(path)
	if err != nil {
		return fmt.Errorf("load key (%s): %w (run `cloudhelper keys init` first)", path, err)
	}
	fmt.Fprintf(stdout, "Key: %s\n", path)
	fmt.Fprintf(stdout, "Label: %s\n", meta.Label)
	fmt.Fprintf(stdout, "Public key: %s\n", id.Recipient().String())
	fmt.Fprintf(stdout, "Fingerprint: %s\n", keys.Fingerprint(id.Recipient().String()))
	return nil
}

func runConfig(args []string) error {
	if len(args) == 0 {
		printConfigUsage()
		return nil
	}
	switch args[0] {
	case "init":
		return runConfigInit(args[1:])
	case "show":
		return runConfigShow(args[1:])
	case "help", "--help", "-h":
		printConfigUsage()
		return nil
	default:
		return fmt.Errorf("unknown config command %q", args[0])
	}
}

func printConfigUsage() {
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintln(stdout, "  cloudhelper config init --backend memory|s3|postgres|cloudkit [backend flags] [--seal] [--path gateway.toml]")
	fmt.Fprintln(stdout, "  cloudhelper config show [--path gateway.toml]")
}

func runConfigInit(args []string) error {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	fs.SetOutput(stdout)
	path := fs.String("path", config.DefaultGatewayFile, "gateway config file to write")
	backendKind := fs.String("backend", config.BackendMemory, "record store: memory, s3, postgres or cloudkit")
	pageSize := fs.Int("page-size", 0, "records per query page (0 keeps the default)")
	bucket := fs.String("bucket", "", "s3: bucket name")
	prefix := fs.String("prefix", "", "s3: object prefix")
	endpoint := fs.String("endpoint", "", "s3: endpoint override")
	dsn := fs.String("dsn", "", "postgres: connection string (defaults to CLOUDHELPER_DATABASE_URL)")
	keyID := fs.String("key-id", "", "cloudkit: server-to-server key id")
	privateKey := fs.String("private-key", "", "cloudkit: path to the PEM private key")
	environment := fs.String("environment", "", "cloudkit: development or production")
	containers := fs.String("containers", "", "cloudkit: comma separated container allowlist")
	rps := fs.Float64("rps", 0, "cloudkit: outbound requests per second (0 disables the limit)")
	seal := fs.Bool("seal", false, "encrypt record data with the local age key")
	keyName := fs.String("key-name", "default", "local key used by --seal")
	force := fs.Bool("force", false, "overwrite existing config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("config init does not accept positional arguments")
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("gateway config already exists at %s (use --force to overwrite)", *path)
	}

	g := config.DefaultGateway()
	g.Backend = strings.ToLower(strings.TrimSpace(*backendKind))
	g.PageSize = *pageSize
	g.S3.Bucket = strings.TrimSpace(*bucket)
	if v := strings.TrimSpace(*prefix); v != "" {
		g.S3.Prefix = v
	}
	g.S3.Endpoint = strings.TrimSpace(*endpoint)
	g.Postgres.DSN = strings.TrimSpace(*dsn)
	g.CloudKit.KeyID = strings.TrimSpace(*keyID)
	g.CloudKit.PrivateKeyPath = strings.TrimSpace(*privateKey)
	if v := strings.TrimSpace(*environment); v != "" {
		g.CloudKit.Environment = v
	}
	for _, c := range strings.Split(*containers, ",") {
		if c = strings.TrimSpace(c); c != "" {
			g.CloudKit.Containers = append(g.CloudKit.Containers, c)
		}
	}
	g.CloudKit.RequestsPerSecond = *rps

	if *seal {
		idPath, err := keys.DefaultKeyPath(*keyName)
		if err != nil {
			return err
		}
		id, _, err := keys.LoadIdentity(idPath)
		if err != nil {
			return fmt.Errorf("load local key (%s): %w (run `cloudhelper keys init` first)", idPath, err)
		}
		g.Seal = config.Seal{
			Recipients:   []string{id.Recipient().String()},
			IdentityPath: idPath,
		}
	}

	if err := config.WriteGateway(*path, g); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Gateway config written: %s\n", *path)
	fmt.Fprintf(stdout, "Backend: %s\n", g.Backend)
	if g.Seal.Enabled() {
		fmt.Fprintf(stdout, "Sealing: on (%s)\n", keys.Fingerprint(g.Seal.Recipients[0]))
	}
	return nil
}

func runConfigShow(args []string) error {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	fs.SetOutput(stdout)
	path := fs.String("path", config.DefaultGatewayFile, "gateway config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("config show does not accept positional arguments")
	}
	g, err := config.LoadGateway(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Gateway file: %s\n", *path)
	fmt.Fprintf(stdout, "Backend: %s\n", g.Backend)
	if g.PageSize > 0 {
		fmt.Fprintf(stdout, "Page size: %d\n", g.PageSize)
	}
	switch g.Backend {
	case config.BackendS3:
		fmt.Fprintf(stdout, "Bucket: %s\n", g.S3.Bucket)
		fmt.Fprintf(stdout, "Prefix: %s\n", g.S3.Prefix)
		if g.S3.Endpoint != "" {
			fmt.Fprintf(stdout, "Endpoint: %s\n", g.S3.Endpoint)
		}
	case config.BackendPostgres:
		if g.Postgres.DSN != "" {
			fmt.Fprintln(stdout, "DSN: (set in file)")
		} else {
			fmt.Fprintln(stdout, "DSN: from environment")
		}
	case config.BackendCloudKit:
		fmt.Fprintf(stdout, "Environment: %s\n", g.CloudKit.Environment)
		fmt.Fprintf(stdout, "Key id: %s\n", g.CloudKit.KeyID)
		if len(g.CloudKit.Containers) > 0 {
			fmt.Fprintf(stdout, "Containers: %s\n", strings.Join(g.CloudKit.Containers, ", "))
		}
	}
	if g.Seal.Enabled() {
		fmt.Fprintf(stdout, "Sealing: %d recipient(s), identity %s\n", len(g.Seal.Recipients), g.Seal.IdentityPath)
	}
	return nil
}
