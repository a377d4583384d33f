// Command waterfall-train trains the waterfall segmentation network on
// synthetic point-cloud pyramids and evaluates it after every epoch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/tsawler/waterfall-net/async"
	"github.com/tsawler/waterfall-net/checkpoints"
	"github.com/tsawler/waterfall-net/config"
	"github.com/tsawler/waterfall-net/dataset"
	"github.com/tsawler/waterfall-net/network"
	"github.com/tsawler/waterfall-net/runstore"
	"github.com/tsawler/waterfall-net/tensor"
	"github.com/tsawler/waterfall-net/training"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON training config (defaults when empty)")
	restore := flag.String("restore", "", "Snapshot to resume from; \"latest\" picks the newest under saving_path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, *configPath, *restore)
	switch {
	case err == nil:
	case errors.Is(err, training.ErrNumericInstability):
		log.Printf("training stopped: %v", err)
		os.Exit(2)
	default:
		log.Printf("training failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, restore string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	tensor.SetCheckNumerics(cfg.CheckNumerics)

	savingDir := cfg.SavingDir(time.Now())
	if err := os.MkdirAll(savingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create saving path: %w", err)
	}
	runLog, err := training.OpenRunLog(filepath.Join(savingDir, cfg.LogFileName()))
	if err != nil {
		return err
	}
	defer runLog.Close()

	net, err := network.New(network.Config{
		NumLayers:   cfg.NumLayers,
		NumClasses:  cfg.NumClasses,
		NumFeatures: cfg.NumFeatures,
		Seed:        cfg.Seed,
	})
	if err != nil {
		return err
	}
	log.Printf("Total number of trainable parameters: %d", net.NumParameters())

	train, err := syntheticSource(cfg, cfg.TrainSteps*cfg.BatchSize, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return err
	}
	val, err := syntheticSource(cfg, cfg.ValSteps*cfg.ValBatchSize, cfg.ValBatchSize, false, cfg.Seed+1)
	if err != nil {
		return err
	}

	opts := []training.Option{training.WithRunLog(runLog)}
	var snaps *checkpoints.Manager
	if cfg.Saving {
		format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
		if err != nil {
			return err
		}
		if snaps, err = checkpoints.NewManager(savingDir, format, cfg.MaxToKeep); err != nil {
			return err
		}
		opts = append(opts, training.WithCheckpoints(snaps))
	}
	if cfg.Plot {
		opts = append(opts, training.WithPlot(savingDir))
	}
	var store *runstore.Store
	if cfg.HistoryDB != "" {
		if store, err = runstore.Open(cfg.HistoryDB); err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, training.WithRecorder(store))
	}

	trainer, err := training.NewTrainer(cfg, net, train, val, opts...)
	if err != nil {
		return err
	}

	session := training.NewSession(cfg.LearningRate)
	if restore != "" {
		path := restore
		if restore == "latest" {
			if snaps == nil {
				return errors.New("-restore latest needs saving enabled")
			}
			if path, err = snaps.Latest(); err != nil {
				return err
			}
			if path == "" {
				return fmt.Errorf("no snapshot under %s", snaps.Dir())
			}
		}
		if session, err = trainer.Restore(path); err != nil {
			return err
		}
		log.Printf("restored %s at epoch %d, step %d", path, session.Epoch, session.Step)
	}
	if store != nil && session.RunID == "" {
		r, err := store.StartRun(ctx, cfg)
		if err != nil {
			return err
		}
		session.RunID = r.ID
	}

	return trainer.Train(ctx, session)
}

func syntheticSource(cfg *config.Config, clouds, batch int, shuffle bool, seed int64) (dataset.DataSource, error) {
	ds, err := dataset.NewSyntheticDataset(dataset.SyntheticConfig{
		Clouds:           clouds,
		NumPoints:        cfg.NumPoints,
		NumFeatures:      cfg.NumFeatures,
		LabelValues:      cfg.LabelValues(),
		KNN:              cfg.KN,
		SubSamplingRatio: cfg.SubSamplingRatio,
		Seed:             seed,
	})
	if err != nil {
		return nil, err
	}
	dl, err := dataset.NewDataLoader(ds, batch, shuffle, seed)
	if err != nil {
		return nil, err
	}
	if cfg.PrefetchDepth == 0 {
		return dl, nil
	}
	p, err := async.NewPrefetcher(dl, cfg.PrefetchDepth)
	if err != nil {
		return nil, err
	}
	return p, nil
}
