package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/jasonchiu/cloudhelper/core/channel"
	"github.com/jasonchiu/cloudhelper/core/gateway"
)

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(stdout)
	recordType := fs.String("type", "", "record type (required)")
	id := fs.String("id", "", "record key (required)")
	data := fs.String("data", "", "record data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("add does not accept positional arguments")
	}
	if strings.TrimSpace(*recordType) == "" || strings.TrimSpace(*id) == "" {
		return errors.New("--type and --id are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := connectedClient(ctx)
	if err != nil {
		return err
	}
	out, err := client.AddRecord(ctx, gateway.AddRecordRequest{Type: *recordType, ID: *id, Data: *data})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Added %s/%s: %s\n", *recordType, *id, out)
	return nil
}

func runEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(stdout)
	id := fs.String("id", "", "record key (required)")
	data := fs.String("data", "", "new record data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("edit does not accept positional arguments")
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := connectedClient(ctx)
	if err != nil {
		return err
	}
	out, err := client.EditRecord(ctx, gateway.EditRecordRequest{ID: *id, Data: *data})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Updated %s: %s\n", *id, out)
	return nil
}

func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(stdout)
	id := fs.String("id", "", "record key (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("delete does not accept positional arguments")
	}
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := connectedClient(ctx)
	if err != nil {
		return err
	}
	if err := client.DeleteRecord(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Deleted %s\n", *id)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stdout)
	recordType := fs.String("type", "", "record type (required)")
	asJSON := fs.Bool("json", false, "print a JSON array")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("list does not accept positional arguments")
	}
	if strings.TrimSpace(*recordType) == "" {
		return errors.New("--type is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := connectedClient(ctx)
	if err != nil {
		return err
	}
	items, err := client.GetAllRecords(ctx, *recordType)
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		return enc.Encode(items)
	}
	for _, item := range items {
		fmt.Fprintln(stdout, item)
	}
	if len(items) == 0 {
		fmt.Fprintf(stdout, "No %s records.\n", *recordType)
	}
	return nil
}

// runCall sends an arbitrary method and prints the raw reply envelope.
func runCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(stdout)
	method := fs.String("method", "", "channel method name (required)")
	rawArgs := fs.String("args", "{}", "JSON object of method arguments")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("call does not accept positional arguments")
	}
	if strings.TrimSpace(*method) == "" {
		return errors.New("--method is required")
	}
	var arguments map[string]any
	if err := json.Unmarshal([]byte(*rawArgs), &arguments); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	client, err := connectedClient(ctx)
	if err != nil {
		return err
	}
	reply, err := client.Invoke(ctx, channel.MethodCall{Method: *method, Arguments: arguments})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reply)
}
