package spanner

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/bitleak/bert/storage/conf"
)

var (
	cfg = &conf.SpannerConfig{
		Project:   "test-project",
		Instance:  "test-instance",
		Database:  "test-db",
		TableName: "bert_rows",
	}
	dummyCtx = context.TODO()
)

func TestMain(m *testing.M) {
	if os.Getenv("SPANNER_EMULATOR_HOST") == "" {
		fmt.Println("SPANNER_EMULATOR_HOST is not set, skip the spanner tests")
		os.Exit(0)
	}
	if err := CreateInstance(dummyCtx, cfg.DatabaseURI()); err != nil {
		panic(fmt.Sprintf("create instance error: %v", err))
	}
	if err := CreateDatabase(dummyCtx, cfg.DatabaseURI(), cfg.TableName); err != nil {
		panic(fmt.Sprintf("create db error: %v", err))
	}
	os.Exit(m.Run())
}
