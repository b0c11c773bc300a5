package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meeting-pipeline/internal/cache"
	"meeting-pipeline/internal/entity"
	"meeting-pipeline/internal/executor"
	"meeting-pipeline/internal/pipeline"
	"meeting-pipeline/internal/resolver"
	"meeting-pipeline/internal/service"
	"meeting-pipeline/internal/worker"
)

type runOptions struct {
	root   string
	sets   []string
	force  bool
	scale  float64
	repeat int
}

func runCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Process recordings in-process and print the job log.",
		Long: `Runs one job over the given files and prints its log and stage summary.
With --repeat the same job is submitted again, which shows cached stages.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.run(ctx, cmd, args)
		},
	}
	cmd.Flags().StringVar(&o.root, "root", ".", "Directory input paths are relative to")
	cmd.Flags().StringArrayVar(&o.sets, "set", nil, "Config option as key=value (repeatable, see 'options')")
	cmd.Flags().BoolVar(&o.force, "force", false, "Ignore cached stage results")
	cmd.Flags().Float64Var(&o.scale, "scale", 0.2, "Multiplier for simulated stage timings")
	cmd.Flags().IntVar(&o.repeat, "repeat", 1, "Number of times to submit the job")
	return cmd
}

func parseSets(sets []string) (entity.Config, error) {
	cfg := entity.Config{}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		cfg[k] = v
	}
	return cfg, nil
}

func (o *runOptions) run(ctx context.Context, cmd *cobra.Command, files []string) error {
	cfg, err := parseSets(o.sets)
	if err != nil {
		return err
	}
	if o.force {
		cfg[entity.OptForceRun] = "true"
	}
	if o.repeat < 1 {
		o.repeat = 1
	}

	store, err := cache.NewMemoryStore(256)
	if err != nil {
		return err
	}
	runner := pipeline.NewRunner(executor.NewSimulatedRegistry(o.scale), cache.New(store))
	queue := service.NewMemoryQueue()
	svc := service.NewJobService(runner, resolver.NewFileResolver(o.root), queue, nil)
	processor := worker.NewProcessor(runner)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(shutdownCtx)
	}()

	out := cmd.OutOrStdout()
	for i := 0; i < o.repeat; i++ {
		if o.repeat > 1 {
			fmt.Fprintf(out, "=== run %d/%d\n", i+1, o.repeat)
		}

		id, err := svc.Submit(ctx, service.SubmitRequest{Inputs: files, Config: cfg, Priority: service.PriorityNormal})
		if err != nil {
			return err
		}
		r := newRenderer(out)
		unsubscribe, err := svc.Subscribe(ctx, id, r)
		if err != nil {
			return err
		}

		claimed, err := queue.ClaimBlocking(ctx, time.Second)
		if err != nil {
			unsubscribe()
			return err
		}
		finished := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				// interrupt: the job stops at its next checkpoint
				_ = svc.Cancel(context.Background(), id)
			case <-finished:
			}
		}()
		procErr := processor.Process(context.WithoutCancel(ctx), claimed)
		close(finished)
		_ = queue.Ack(ctx, claimed)

		select {
		case <-r.Done():
		case <-time.After(5 * time.Second):
		}
		unsubscribe()

		switch r.State() {
		case entity.JobFailed:
			return procErr
		case entity.JobCancelled:
			return errors.New("job cancelled")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
