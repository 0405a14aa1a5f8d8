package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/prsync/internal/jobqueue"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the background job queue workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output for this command",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	a, err := newApp(c)
	if err != nil {
		return err
	}
	defer a.close()

	queue, err := jobqueue.NewJobQueue(a.pool, a.worker, a.logger)
	if err != nil {
		return err
	}

	if err := queue.Start(c.Context); err != nil {
		return err
	}
	a.logger.Info().Msg("Job queue workers started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	a.logger.Info().Msg("Shutting down job queue workers")
	return queue.Stop(c.Context)
}
