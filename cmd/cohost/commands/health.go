package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

// newHealthCmd creates the `cohost health` command. It probes the model
// server and exits non-zero when it is unreachable, for container health
// checks.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the model server is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd, cfg, false)
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			available := newModel(cfg, log.Logger).IsAvailable(ctx)

			status := "healthy"
			if !available {
				status = "unhealthy"
			}
			out, err := sonic.Marshal(map[string]any{
				"status":        status,
				"llm_available": available,
				"llm_base_url":  cfg.LLM.BaseURL,
			})
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if !available {
				return errors.New("model server unreachable")
			}
			return nil
		},
	}
}
