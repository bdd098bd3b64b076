package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"objectmap/internal/authority"
	"objectmap/internal/platform/config"
	"objectmap/internal/platform/kafka/consumer"
	"objectmap/internal/platform/logger"
	"objectmap/internal/registry/client"
	"objectmap/internal/registry/handler"
	"objectmap/internal/registry/loader"
	"objectmap/internal/registry/models"
	"objectmap/internal/registry/snapshot"
	audit "objectmap/pkg/platform/audit"
	auditconsumer "objectmap/pkg/platform/audit/consumer"
)

func stderrLogger() *slog.Logger {
	return logger.NewWithWriter(os.Stderr, logger.Options{Level: os.Getenv("LOG_LEVEL")})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusAction(cCtx *cli.Context) error {
	c := client.New(cCtx.String(flagServer.Name))
	status, err := c.Status(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(cCtx.App.Writer, status)
}

func lookupAction(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return cli.Exit("lookup takes exactly one <number>", 2)
	}
	number, err := models.ParseNumber(cCtx.Args().First())
	if err != nil {
		return err
	}
	c := client.New(cCtx.String(flagServer.Name))
	id, err := c.Lookup(cCtx.Context, number)
	if err != nil {
		return err
	}
	fmt.Fprintln(cCtx.App.Writer, id.String())
	return nil
}

func populateAction(cCtx *cli.Context) error {
	key := cCtx.String(flagPipelineKey.Name)
	if key == "" {
		return cli.Exit("--pipeline-key is required", 2)
	}
	path := cCtx.String(flagManifest.Name)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	items, err := loader.ReadManifest(f, loader.FormatFromPath(path))
	if err != nil {
		return err
	}

	log := stderrLogger()
	c := client.New(cCtx.String(flagServer.Name), client.WithPipelineKey(key))
	report, err := loader.New(c,
		loader.WithConcurrency(cCtx.Int(flagConcurrency.Name)),
		loader.WithLogger(log),
	).Load(cCtx.Context, items)
	if err != nil {
		return err
	}
	log.Info("manifest loaded", "total", report.Total, "added", report.Added, "duplicates", len(report.Duplicates))
	return printJSON(cCtx.App.Writer, report)
}

func freezeAction(cCtx *cli.Context) error {
	capability := cCtx.String(flagCapability.Name)
	if capability == "" {
		return cli.Exit("--capability is required", 2)
	}
	caller := cCtx.String(flagCaller.Name)
	if caller == "" {
		caller = authority.Holder(capability)
	}
	c := client.New(cCtx.String(flagServer.Name))
	status, err := c.Freeze(cCtx.Context, capability, caller)
	if err != nil {
		return err
	}
	return printJSON(cCtx.App.Writer, status)
}

func exportAction(cCtx *cli.Context) error {
	ctx := cCtx.Context
	c := client.New(cCtx.String(flagServer.Name))
	reg, entries, err := fetchFrozen(ctx, c)
	if err != nil {
		return err
	}
	doc, err := snapshot.Build(reg, entries)
	if err != nil {
		return err
	}
	data, err := snapshot.Encode(doc)
	if err != nil {
		return err
	}
	sink, err := snapshot.NewSink(config.SnapshotConfig{
		Target:      cCtx.String(flagTarget.Name),
		S3Region:    cCtx.String(flagS3Region.Name),
		S3Endpoint:  cCtx.String(flagS3Endpoint.Name),
		S3AccessKey: cCtx.String(flagS3AccessKey.Name),
		S3SecretKey: cCtx.String(flagS3SecretKey.Name),
	}, stderrLogger())
	if err != nil {
		return err
	}
	location, err := sink.Put(ctx, snapshot.Name(doc), data, doc.Digest)
	if err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "%s %s\n", location, doc.Digest)
	return nil
}

// fetchFrozen rebuilds the aggregate and entries from the public read API.
func fetchFrozen(ctx context.Context, c *client.Client) (*models.Registry, []models.Entry, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !status.Frozen {
		return nil, nil, models.ErrNotFrozen
	}
	page, err := c.ListAll(ctx, 1000)
	if err != nil {
		return nil, nil, err
	}
	entries, err := toEntries(page)
	if err != nil {
		return nil, nil, err
	}
	reg := &models.Registry{
		Size:          status.Size,
		Count:         status.Count,
		Initialized:   status.Initialized,
		Frozen:        status.Frozen,
		Ownership:     models.Shared(),
		CreatedAt:     status.CreatedAt,
		InitializedAt: status.InitializedAt,
		FrozenAt:      status.FrozenAt,
		UpdatedAt:     status.UpdatedAt,
	}
	return reg, entries, nil
}

func toEntries(page []handler.EntryResponse) ([]models.Entry, error) {
	entries := make([]models.Entry, 0, len(page))
	for _, e := range page {
		id, err := models.ParseObjectID(e.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.Number, err)
		}
		entries = append(entries, models.Entry{Number: models.Number(e.Number), ObjectID: id})
	}
	return entries, nil
}

func mintCapabilityAction(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return cli.Exit("mint-capability takes exactly one <holder>", 2)
	}
	id := cCtx.String(flagCapabilityID.Name)
	if id == "" {
		id = uuid.NewString()
		fmt.Fprintf(cCtx.App.ErrWriter, "capability id: %s (set CAPABILITY_ID on the server)\n", id)
	}
	caps := authority.NewCapabilities(cCtx.String(flagSigningKey.Name), cCtx.String(flagIssuer.Name), id)
	token, err := caps.Mint(cCtx.Args().First(), cCtx.Duration(flagTTL.Name))
	if err != nil {
		return err
	}
	fmt.Fprintln(cCtx.App.Writer, token)
	return nil
}

func pipelineKeyAction(cCtx *cli.Context) error {
	key, err := authority.GenerateKey()
	if err != nil {
		return err
	}
	hash, err := authority.HashKey(key)
	if err != nil {
		return err
	}
	return printJSON(cCtx.App.Writer, map[string]string{
		"pipeline_key":      key,
		"pipeline_key_hash": hash,
	})
}

// printSink writes each decoded audit event as one JSON line.
type printSink struct {
	enc *json.Encoder
}

func (p *printSink) Append(_ context.Context, event audit.Event) error {
	return p.enc.Encode(event)
}

func eventsAction(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := stderrLogger()
	topic := cCtx.String(flagTopic.Name)
	c, err := consumer.New(consumer.Config{
		Brokers:   cCtx.StringSlice(flagBrokers.Name),
		Group:     cCtx.String(flagGroup.Name),
		Topics:    []string{topic},
		FromStart: cCtx.Bool(flagFromStart.Name),
	}, log)
	if err != nil {
		return err
	}
	defer c.Close()

	router := auditconsumer.NewRouter(log, nil)
	router.Register(topic, auditconsumer.NewEventHandler(&printSink{enc: json.NewEncoder(cCtx.App.Writer)}, log))
	if err := c.Run(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
