package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	zarr "github.com/figpack/zarr-go"
	"github.com/figpack/zarr-go/serve"
)

func (a *app) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve DIR",
		Short: "Serve a store's metadata and chunks over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			base, closeStore, err := openStore(a.cfg.Store, args[0])
			if err != nil {
				return err
			}
			defer closeStore()
			store, err := zarr.NewRefStore(base)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           serve.New(store).Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx := cmd.Context()
			errc := make(chan error, 1)
			go func() {
				logger.Info("serving store", "addr", addr, "dir", args[0], "store", store.Type())
				errc <- srv.ListenAndServe()
			}()

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8088", "listen address")
	return cmd
}
