package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quintetdev/quintet/internal/config"
	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/logging"
	"github.com/quintetdev/quintet/internal/orchestrator"
	"github.com/quintetdev/quintet/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start or resume the orchestration loop",
	RunE:  runLoop,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runLoop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, err := logging.NewLogger(logFile, logLevel)
	if err != nil {
		return err
	}
	defer log.Close()

	o := orchestrator.New(cfg, log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// SIGINT/SIGTERM only cancel the context; Prepare/Run then return on
	// the main goroutine, which saves state, tears down, and exits with
	// the conventional 128+signal code. Cleanup never runs concurrently
	// with the loop's own state writes.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	caught := make(chan os.Signal, 1)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("caught signal, stopping run", "signal", sig.String())
		caught <- sig
		cancel()
	}()
	exitOnSignal := func() {
		select {
		case sig := <-caught:
			o.Cleanup(true)
			code := 128
			if s, ok := sig.(syscall.Signal); ok {
				code += int(s)
			}
			os.Exit(code)
		default:
		}
	}

	done, err := o.Prepare(ctx)
	if err != nil {
		exitOnSignal()
		o.Cleanup(true)
		return err
	}
	if done {
		if o.State().FinalStatus == state.StatusPass {
			return nil
		}
		return fmt.Errorf("previous run finished with status %s", o.State().FinalStatus)
	}

	status, err := o.Run(ctx)
	if err != nil {
		log.Error("run aborted", "error", err)
		exitOnSignal()
		o.Cleanup(true)
		return abortError(err)
	}

	// Terminal states were already saved by the loop.
	exitOnSignal()
	o.Cleanup(false)
	if status != state.StatusPass {
		return fmt.Errorf("scenario did not pass within the round budget")
	}
	return nil
}

// abortError decorates a run-aborting error with a resume hint when the
// saved state can pick up where the failed dispatch left off.
func abortError(err error) error {
	if errors.IsRecoverable(err) {
		return fmt.Errorf("%w (state saved, set RESUME=1 to retry from the current phase)", err)
	}
	return err
}
