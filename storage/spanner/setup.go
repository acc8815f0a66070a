package spanner

import (
	"context"
	"fmt"
	"regexp"

	"cloud.google.com/go/spanner"
	database "cloud.google.com/go/spanner/admin/database/apiv1"
	instance "cloud.google.com/go/spanner/admin/instance/apiv1"
	"google.golang.org/api/option"
	databasepb "google.golang.org/genproto/googleapis/spanner/admin/database/v1"
	instancepb "google.golang.org/genproto/googleapis/spanner/admin/instance/v1"
	"google.golang.org/grpc/codes"

	"github.com/bitleak/bert/storage"
	"github.com/bitleak/bert/storage/conf"
)

func CreateSpannerClient(ctx context.Context, cfg *conf.SpannerConfig) (*spanner.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CredentialsFile != "" {
		return spanner.NewClient(ctx, cfg.DatabaseURI(), option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return spanner.NewClient(ctx, cfg.DatabaseURI())
}

// TableDDL returns the statement creating the row table.
func TableDDL(tableName string) string {
	if tableName == "" {
		tableName = storage.DefaultTableName
	}
	return fmt.Sprintf(`CREATE TABLE %s (
		table_name   STRING(1024) NOT NULL,
		identity     STRING(1024) NOT NULL,
		name         STRING(1024),
		datum        BYTES(MAX),
		created_time INT64 NOT NULL
	) PRIMARY KEY (table_name, identity)`, tableName)
}

// CreateInstance makes sure the instance of the database uri exists, mostly for the emulator.
func CreateInstance(ctx context.Context, uri string) error {
	matches := regexp.MustCompile("projects/(.*)/instances/(.*)/databases/.*").FindStringSubmatch(uri)
	if matches == nil || len(matches) != 3 {
		return fmt.Errorf("invalid instance id %s", uri)
	}
	instanceName := "projects/" + matches[1] + "/instances/" + matches[2]

	instanceAdminClient, err := instance.NewInstanceAdminClient(ctx)
	if err != nil {
		return err
	}
	defer instanceAdminClient.Close()

	_, err = instanceAdminClient.GetInstance(ctx, &instancepb.GetInstanceRequest{
		Name: instanceName,
	})
	if err != nil && spanner.ErrCode(err) != codes.NotFound {
		return err
	}
	if err == nil {
		return nil
	}

	op, err := instanceAdminClient.CreateInstance(ctx, &instancepb.CreateInstanceRequest{
		Parent:     "projects/" + matches[1],
		InstanceId: matches[2],
		Instance: &instancepb.Instance{
			Config:      "projects/" + matches[1] + "/instanceConfigs/emulator-config",
			DisplayName: matches[2],
			NodeCount:   1,
		},
	})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

// CreateDatabase creates the database with the row table unless it already exists.
func CreateDatabase(ctx context.Context, uri, tableName string) error {
	matches := regexp.MustCompile("^(.*)/databases/(.*)$").FindStringSubmatch(uri)
	if matches == nil || len(matches) != 3 {
		return fmt.Errorf("invalid database id %s", uri)
	}

	databaseAdminClient, err := database.NewDatabaseAdminClient(ctx)
	if err != nil {
		return err
	}
	defer databaseAdminClient.Close()
	_, err = databaseAdminClient.GetDatabase(ctx, &databasepb.GetDatabaseRequest{Name: uri})
	if err != nil && spanner.ErrCode(err) != codes.NotFound {
		return err
	}
	if err == nil {
		// db exists
		return nil
	}

	op, err := databaseAdminClient.CreateDatabase(ctx, &databasepb.CreateDatabaseRequest{
		Parent:          matches[1],
		CreateStatement: "CREATE DATABASE `" + matches[2] + "`",
		ExtraStatements: []string{TableDDL(tableName)},
	})
	if err != nil {
		return err
	}
	if _, err = op.Wait(ctx); err != nil {
		return err
	}
	return nil
}
