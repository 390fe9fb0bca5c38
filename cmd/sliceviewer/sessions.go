package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/espina-project/slicecache/internal/settings"
	"github.com/espina-project/slicecache/pkg/data/sqlite/session"
	"github.com/espina-project/slicecache/pkg/utils"
)

func initConfig(c *cli.Context) error {
	path := c.String("settings")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("settings file %s already exists (use --force to overwrite)", path)
	}
	if err := settings.Save(settings.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote default settings to %s\n", path)
	return nil
}

func listSessions(c *cli.Context) error {
	ctx := context.Background()
	repo, err := session.NewRepository(ctx, c.String("session-db"), c.String("session-table"))
	if err != nil {
		return fmt.Errorf("failed to create session repository: %w", err)
	}
	defer repo.Close()

	sessions, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VOLUME\tAXIS\tPOSITION\tRADIUS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", s.VolumeID, s.Axis, s.Position, s.WindowRadius, s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func forget(c *cli.Context) error {
	ctx := context.Background()
	sugar, err := utils.NewSugaredLogger(true, "")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	volumeID, err := forgetVolumeID(c)
	if err != nil {
		return err
	}

	repo, err := session.NewRepository(ctx, c.String("session-db"), c.String("session-table"))
	if err != nil {
		return fmt.Errorf("failed to create session repository: %w", err)
	}
	defer repo.Close()

	deleted, err := repo.Delete(ctx, volumeID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		sugar.Infof("no session saved for volume %s", volumeID)
		return nil
	}

	sugar.Infof("session successfully removed for volume %s", volumeID)
	return nil
}

// forgetVolumeID is the explicit --volume-id or the id the viewer would use
// for the volume flags.
func forgetVolumeID(c *cli.Context) (string, error) {
	if id := c.String("volume-id"); id != "" {
		return id, nil
	}
	cfg := &Config{
		VolumeDir:     c.String("volume-dir"),
		PhantomWidth:  c.Int("phantom-width"),
		PhantomHeight: c.Int("phantom-height"),
		PhantomDepth:  c.Int("phantom-depth"),
	}
	if cfg.VolumeDir == "" && (cfg.PhantomWidth <= 0 || cfg.PhantomHeight <= 0 || cfg.PhantomDepth <= 0) {
		return "", errors.New("volume-id or volume flags are required")
	}
	return cfg.VolumeID(), nil
}
