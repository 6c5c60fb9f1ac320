package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/compozy/knowledgebase/pkg/config"
)

var errNotReady = errors.New("embedding service is not ready")

func HealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the embedding service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out, err := newPrinter(cmd)
			if err != nil {
				return err
			}
			emb, err := newEmbeddingClient(config.FromContext(ctx))
			if err != nil {
				return err
			}
			health, err := emb.Health(ctx)
			if err != nil {
				return err
			}
			if out.json {
				err = out.JSON(health)
			} else {
				status := okStyle.Render(health.Status)
				if !health.ModelLoaded {
					status = errStyle.Render(health.Status)
				}
				out.Linef("status: %s", status)
				out.Linef("model loaded: %t", health.ModelLoaded)
				out.Linef("device: %s", health.Device)
				if health.ModelPath != "" {
					out.Linef("model path: %s", health.ModelPath)
				}
			}
			if err != nil {
				return err
			}
			if !health.ModelLoaded {
				return errNotReady
			}
			return nil
		},
	}
}
