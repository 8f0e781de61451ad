package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"cwtail/internal/checkpoint"
	checkpointazure "cwtail/internal/checkpoint/azure"
	checkpointfile "cwtail/internal/checkpoint/file"
	checkpointgcs "cwtail/internal/checkpoint/gcs"
	checkpointmem "cwtail/internal/checkpoint/memory"
	checkpoints3 "cwtail/internal/checkpoint/s3"
	checkpointsqlite "cwtail/internal/checkpoint/sqlite"
	"cwtail/internal/config"
	"cwtail/internal/home"
	"cwtail/internal/logsource/cloudwatch"
)

// openBackend creates the checkpoint backend selected by the configuration.
// Local backends default to files in the home directory.
func openBackend(ctx context.Context, cfg config.Config, hd home.Dir) (checkpoint.Backend, error) {
	cp := cfg.Checkpoint
	switch cp.Backend {
	case "memory":
		return checkpointmem.New(), nil
	case "file":
		path := cp.Path
		if path == "" {
			path = hd.CheckpointPath("json")
		}
		return checkpointfile.New(path), nil
	case "sqlite":
		path := cp.Path
		if path == "" {
			path = hd.CheckpointPath("db")
		}
		b, err := checkpointsqlite.Open(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		awsCfg, err := cloudwatch.LoadAWSConfig(ctx, awsSettings(cfg.AWS, nil))
		if err != nil {
			return nil, err
		}
		client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			if cp.Region != "" {
				o.Region = cp.Region
			}
			if cp.Endpoint != "" {
				o.BaseEndpoint = aws.String(cp.Endpoint)
				o.UsePathStyle = true
			}
		})
		return checkpoints3.New(client, cp.Bucket, cp.Key), nil
	case "gcs":
		client, err := checkpointgcs.NewClient(ctx, checkpointgcs.Config{
			Bucket:          cp.Bucket,
			Object:          cp.Key,
			CredentialsFile: cp.CredentialsFile,
			Endpoint:        cp.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return checkpointgcs.New(client, cp.Bucket, cp.Key), nil
	case "azure":
		client, err := checkpointazure.NewClient(cp.ConnectionString)
		if err != nil {
			return nil, err
		}
		return checkpointazure.New(client, cp.Container, cp.Key), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %q", cp.Backend)
	}
}
