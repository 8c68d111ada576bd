package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/charlesng35/sftpgate/internal/app"
	"github.com/charlesng35/sftpgate/internal/services"
	"github.com/charlesng35/sftpgate/pkg/logger"
)

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "sync <local-dir> <remote-dir>",
		Short: "Upload every file below a local directory to the remote server",
		Long: `Mirror a local directory tree onto the SFTP server. Remote directories are
created as needed and existing remote files are overwritten. Files that fail
are reported and the sync carries on.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var obs services.Observer
			if !quiet {
				obs = newBarObserver(out)
			}
			return withFileStack(cmd.Context(), flags, func(ctx context.Context, files *services.FileService) error {
				result := files.SyncDirectoryLocalToRemote(ctx, args[0], args[1], obs)
				if bar, ok := obs.(*barObserver); ok {
					bar.finish()
				}
				if result.Data != nil {
					for _, file := range result.Data.Files {
						if !file.Success {
							fmt.Fprintf(out, "failed: %s: %s\n", file.FileName, file.Message)
						}
					}
					fmt.Fprintf(out, "%d/%d file(s) synchronised to %s\n",
						result.Data.ProcessedFiles-result.Data.FailedFiles, result.Data.TotalFiles, result.Data.RemoteRoot)
				}
				return result.Err()
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable the progress bar")
	return cmd
}

func newPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the SFTP server and print what it reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withFileStack(cmd.Context(), flags, func(ctx context.Context, files *services.FileService) error {
				result := files.GetServerInfo(ctx)
				if !result.Success {
					return result.Err()
				}
				encoded, err := json.MarshalIndent(result.Data, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal server info: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
				return nil
			})
		},
	}
}

// withFileStack runs fn against a file service built from configuration and
// closes every session afterwards.
func withFileStack(ctx context.Context, flags *globalFlags, fn func(context.Context, *services.FileService) error) (err error) {
	cfg, err := loadApplicationConfig(flags.configPath)
	if err != nil {
		return err
	}
	if err := app.ConfigureLogging(app.ServerConfig{LogLevel: "warn", LogFormat: "console"}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	ctx, err = commandContext(ctx, flags)
	if err != nil {
		return err
	}

	stack, err := newFileStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := stack.Manager.Shutdown(context.Background()); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	return fn(ctx, stack.Files)
}

// barObserver renders sync progress as a file-count bar.
type barObserver struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newBarObserver(out io.Writer) *barObserver {
	return &barObserver{out: out}
}

func (o *barObserver) OnTransfer(services.TransferProgress) {}

func (o *barObserver) OnBatch(p services.BatchProgress) {
	o.update(p)
}

func (o *barObserver) OnSync(p services.SyncProgress) {
	o.update(p.BatchProgress)
}

func (o *barObserver) update(p services.BatchProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.bar == nil {
		o.bar = progressbar.NewOptions(p.TotalFiles,
			progressbar.OptionSetWriter(o.out),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetDescription("syncing"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	o.bar.Describe(p.CurrentFile)
	_ = o.bar.Set(p.ProcessedFiles)
}

func (o *barObserver) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar != nil {
		_ = o.bar.Finish()
		fmt.Fprintln(o.out)
	}
}
