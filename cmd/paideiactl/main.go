package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"paideia/internal/storage"
	paideiaapi "paideia/pkg/paideia"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: paideiactl <init|reset|run|runs|history|checkpoints> [flags]", msg)
}

func storeFlags(fs *flag.FlagSet) (*string, *string) {
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	return storeKind, dbPath
}

func newClient(storeKind, dbPath string) (*paideiaapi.Client, error) {
	return paideiaapi.New(paideiaapi.Options{StoreKind: storeKind, DBPath: dbPath})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	resetter, ok := store.(storage.Resetter)
	if !ok {
		return fmt.Errorf("store backend %s cannot be reset", *storeKind)
	}
	if err := resetter.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("store reset")
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	configPath := fs.String("config", "", "JSON run configuration")
	workers := fs.Int("workers", 0, "worker count")
	epochs := fs.Int("epochs", 0, "epochs to train")
	batchSize := fs.Int("batch-size", 0, "samples per batch")
	learningRate := fs.Float64("lr", 0, "learning rate")
	seed := fs.Int64("seed", 0, "random seed")
	dataPath := fs.String("data", "", "headerless CSV dataset")
	inputCols := fs.Int("input-cols", 0, "input columns in the CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req paideiaapi.RunRequest
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}
	if *workers > 0 {
		req.Workers = *workers
	}
	if *epochs > 0 {
		req.Epochs = *epochs
	}
	if *batchSize > 0 {
		req.BatchSize = *batchSize
	}
	if *learningRate > 0 {
		req.LearningRate = *learningRate
	}
	if *seed != 0 {
		req.Seed = *seed
	}
	if *dataPath != "" {
		req.DataPath = *dataPath
	}
	if *inputCols > 0 {
		req.InputCols = *inputCols
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	started := time.Now()
	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("run %s finished %s\n", summary.RunID, humanize.Time(started))
	}
	fmt.Printf("run_id=%s workers=%d epochs=%d iterations=%s samples=%s handler=%s\n",
		summary.RunID,
		summary.Workers,
		summary.Epochs,
		humanize.Comma(int64(summary.Iterations)),
		humanize.Comma(int64(summary.Samples)),
		summary.HandlerName)
	fmt.Printf("final_loss=%.6f final_validation=%.6f\n", summary.FinalLoss, summary.FinalValidation)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("%s  created=%s workers=%d epochs=%d samples=%s loss=%.6f handler=%s\n",
			r.RunID, r.CreatedAtUTC, r.Workers, r.Epochs,
			humanize.Comma(int64(r.Samples)), r.FinalLoss, r.HandlerName)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run-id", "", "run to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("history requires -run-id")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, *runID)
	if err != nil {
		return err
	}
	for _, row := range history {
		fmt.Printf("epoch=%d iterations=%s loss=%.6f lr=%.6f\n",
			row.Epoch, humanize.Comma(int64(row.Iterations)), row.TrainLoss, row.LearningRate)
	}
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run-id", "", "run to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("checkpoints requires -run-id")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	checkpoints, err := client.Checkpoints(ctx, *runID)
	if err != nil {
		return err
	}
	for _, cp := range checkpoints {
		created := time.Unix(cp.CreatedAtUnix, 0).UTC()
		fmt.Printf("%s  epoch=%d parameters=%s created=%s\n",
			cp.ID, cp.Epoch, humanize.Comma(int64(len(cp.Parameters))), humanize.Time(created))
	}
	return nil
}
