package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cloudmoor/cloudmoor/pkg/config"
	"github.com/cloudmoor/cloudmoor/pkg/policy"
	"github.com/cloudmoor/cloudmoor/pkg/reconcile"
)

func newWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [sources...]",
		Short: "Watch entity sources and reconcile on change",
		Long: `Watch CUE entity sources and re-run reconciliation whenever they
change. Policy paths from the host config are watched too, so edited
policies take effect without a restart.

The command runs until interrupted.`,
		Example: `  # Watch the sources from the host config
  moor watch

  # Watch a specific directory
  moor watch ./entities`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			d, err := newDriver(ctx)
			if err != nil {
				return err
			}
			defer d.Close(ctx)

			sources := args
			if len(sources) == 0 {
				sources = d.cfg.Sources
			}
			if len(sources) == 0 {
				return fmt.Errorf("no entity sources given and none configured")
			}

			if len(d.cfg.PolicyPaths) > 0 {
				err := d.loader.Watch(ctx, d.cfg.PolicyPaths, func(policies []policy.Policy) error {
					return d.policies.Replace(ctx, policies)
				})
				if err != nil {
					d.tel.Logger.WithError(err).Warn("Policy hot-reload unavailable")
				}
			}

			return watchSources(ctx, d, sources)
		},
	}

	return cmd
}

func watchSources(ctx context.Context, d *driver, sources []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, src := range sources {
		if err := watcher.Add(src); err != nil {
			d.tel.Logger.WithError(err).WithField("path", src).Warn("Failed to watch source")
		}
	}

	// Reconcile once up front so a fresh watch converges immediately.
	if err := applyAll(ctx, d, sources); err != nil {
		d.tel.Logger.WithError(err).Error("Initial reconciliation failed")
	}

	d.tel.Logger.WithField("sources", len(sources)).Info("Watching entity sources")

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	runs := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isEntitySource(event.Name) {
				continue
			}
			d.tel.Logger.WithField("file", event.Name).Debug("Source changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case runs <- struct{}{}:
				default:
				}
			})

		case <-runs:
			if err := applyAll(ctx, d, sources); err != nil {
				d.tel.Logger.WithError(err).Error("Reconciliation failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.tel.Logger.WithError(err).Error("Watcher error")
		}
	}
}

// applyAll re-parses the sources and reconciles every declared entity.
func applyAll(ctx context.Context, d *driver, sources []string) error {
	result, err := d.parseEntities(ctx, sources)
	if err != nil {
		return err
	}

	waves, err := config.Order(result.Entities)
	if err != nil {
		return err
	}

	var failed int
	for _, wave := range waves {
		for _, ent := range wave {
			prior, err := loadPrior(ctx, d, ent)
			if err != nil {
				return err
			}

			op := reconcile.OpCreate
			if prior.ID != "" {
				op = reconcile.OpUpdate
			}

			if _, err := d.reconcileEntity(ctx, ent, op, "", nil); err != nil {
				d.tel.Logger.WithEntity(ent.Kind, ent.Name).WithError(err).Error("Reconciliation failed")
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d entities failed", failed, len(result.Entities))
	}
	d.tel.Logger.WithField("entities", len(result.Entities)).Info("Reconciliation complete")
	return nil
}

func isEntitySource(path string) bool {
	return strings.HasSuffix(path, ".cue")
}
