package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "Registry API base URL",
	EnvVars: []string{"OBJECTMAP_SERVER"},
}

var flagPipelineKey = &cli.StringFlag{
	Name:    "pipeline-key",
	Usage:   "Pipeline key sent on population requests",
	EnvVars: []string{"OBJECTMAP_PIPELINE_KEY"},
}

var flagCapability = &cli.StringFlag{
	Name:    "capability",
	Usage:   "Freeze capability token",
	EnvVars: []string{"OBJECTMAP_CAPABILITY"},
}

var flagCaller = &cli.StringFlag{
	Name:    "caller",
	Usage:   "Principal presenting the capability",
	EnvVars: []string{"OBJECTMAP_CALLER"},
}

var flagSigningKey = &cli.StringFlag{
	Name:     "signing-key",
	Usage:    "Capability signing key (at least 32 bytes)",
	EnvVars:  []string{"CAPABILITY_SIGNING_KEY"},
	Required: true,
}

var flagIssuer = &cli.StringFlag{
	Name:    "issuer",
	Value:   "objectmap",
	EnvVars: []string{"CAPABILITY_ISSUER"},
}

var flagCapabilityID = &cli.StringFlag{
	Name:    "capability-id",
	Usage:   "jti of the capability; generated when empty",
	EnvVars: []string{"CAPABILITY_ID"},
}

var flagTTL = &cli.DurationFlag{
	Name:  "ttl",
	Value: 24 * time.Hour,
	Usage: "Capability lifetime, 0 for no expiry",
}

var flagManifest = &cli.StringFlag{
	Name:     "manifest",
	Usage:    "CSV (number,object_id) or JSON lines manifest",
	Required: true,
}

var flagConcurrency = &cli.IntFlag{
	Name:  "concurrency",
	Value: 8,
}

var flagTarget = &cli.StringFlag{
	Name:     "target",
	Usage:    "Directory or s3://bucket/prefix",
	EnvVars:  []string{"SNAPSHOT_TARGET"},
	Required: true,
}

var flagS3Region = &cli.StringFlag{
	Name:    "s3-region",
	Value:   "us-east-1",
	EnvVars: []string{"SNAPSHOT_S3_REGION"},
}

var flagS3Endpoint = &cli.StringFlag{
	Name:    "s3-endpoint",
	EnvVars: []string{"SNAPSHOT_S3_ENDPOINT"},
}

var flagS3AccessKey = &cli.StringFlag{
	Name:    "s3-access-key",
	EnvVars: []string{"SNAPSHOT_S3_ACCESS_KEY"},
}

var flagS3SecretKey = &cli.StringFlag{
	Name:    "s3-secret-key",
	EnvVars: []string{"SNAPSHOT_S3_SECRET_KEY"},
}

var flagBrokers = &cli.StringSliceFlag{
	Name:     "brokers",
	EnvVars:  []string{"KAFKA_BROKERS"},
	Required: true,
}

var flagTopic = &cli.StringFlag{
	Name:    "topic",
	Value:   "objectmap.registry.events",
	EnvVars: []string{"KAFKA_TOPIC"},
}

var flagGroup = &cli.StringFlag{
	Name:  "group",
	Value: "objectmapctl",
}

var flagFromStart = &cli.BoolFlag{
	Name:  "from-start",
	Usage: "Read the topic from the earliest offset",
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "objectmapctl",
		Usage:          "Operate the number to object id registry",
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Print the registry lifecycle state",
				Flags:  []cli.Flag{flagServer},
				Action: statusAction,
			},
			{
				Name:      "lookup",
				Usage:     "Resolve a number to its object id",
				ArgsUsage: "<number>",
				Flags:     []cli.Flag{flagServer},
				Action:    lookupAction,
			},
			{
				Name:   "populate",
				Usage:  "Add every entry of a manifest",
				Flags:  []cli.Flag{flagServer, flagPipelineKey, flagManifest, flagConcurrency},
				Action: populateAction,
			},
			{
				Name:   "freeze",
				Usage:  "Freeze the registry with a capability",
				Flags:  []cli.Flag{flagServer, flagCapability, flagCaller},
				Action: freezeAction,
			},
			{
				Name:   "export",
				Usage:  "Write the frozen mapping to a directory or S3",
				Flags:  []cli.Flag{flagServer, flagTarget, flagS3Region, flagS3Endpoint, flagS3AccessKey, flagS3SecretKey},
				Action: exportAction,
			},
			{
				Name:      "mint-capability",
				Usage:     "Sign a freeze capability for a holder",
				ArgsUsage: "<holder>",
				Flags:     []cli.Flag{flagSigningKey, flagIssuer, flagCapabilityID, flagTTL},
				Action:    mintCapabilityAction,
			},
			{
				Name:   "pipeline-key",
				Usage:  "Generate a pipeline key and its bcrypt hash",
				Action: pipelineKeyAction,
			},
			{
				Name:   "events",
				Usage:  "Tail registry audit events from Kafka",
				Flags:  []cli.Flag{flagBrokers, flagTopic, flagGroup, flagFromStart},
				Action: eventsAction,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
