package main

import (
	"context"
	"fmt"

	"github.com/eniz1806/omnistore/internal/client"
)

func runListBuckets(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "list-buckets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := wantArgs(fs, usageListBuckets, 0, 0); err != nil {
		return err
	}

	buckets, err := c.ListBuckets(ctx)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		fmt.Fprintln(g.stdout, "No buckets found.")
		return nil
	}
	rows := make([][]string, 0, len(buckets))
	for _, b := range buckets {
		created := ""
		if !b.Created.IsZero() {
			created = b.Created.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{b.Name, created})
	}
	printTable(g.stdout, []string{"NAME", "CREATED"}, rows)
	return nil
}

func runCreateBucket(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "create-bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageCreateBucket, 1, 1)
	if err != nil {
		return err
	}
	if err := c.CreateBucket(ctx, pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "Bucket %q created.\n", pos[0])
	return nil
}

func runDeleteBucket(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "delete-bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := wantArgs(fs, usageDeleteBucket, 1, 1)
	if err != nil {
		return err
	}
	if err := c.DeleteBucket(ctx, pos[0]); err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "Bucket %q deleted.\n", pos[0])
	return nil
}

func runHealth(ctx context.Context, g *globals, c *client.Client, args []string) error {
	fs := subFlags(g, "health")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := wantArgs(fs, usageHealth, 0, 0); err != nil {
		return err
	}
	doc, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(g.stdout, "Status:    %v\n", doc["status"])
	fmt.Fprintf(g.stdout, "Uptime:    %v\n", doc["uptime"])
	if protos, ok := doc["protocols"].([]any); ok {
		fmt.Fprintf(g.stdout, "Protocols: %v\n", protos)
	}
	return nil
}
